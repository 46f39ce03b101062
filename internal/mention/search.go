package mention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ramarivera/portal/internal/common/logger"
)

const (
	defaultDebounce   = 150 * time.Millisecond
	defaultMaxResults = 50
	searchTimeout     = 10 * time.Second
)

// FileFinder runs a fuzzy file path search.
type FileFinder interface {
	FindFiles(ctx context.Context, query string) ([]string, error)
}

// SearchOptions configures a Searcher.
type SearchOptions struct {
	Debounce   time.Duration
	MaxResults int
	Excludes   []string
	// RatePerSecond limits upstream searches across all callers. Zero disables the limit.
	RatePerSecond float64
}

// Searcher filters and caps file search results, and hands out debounced
// per-client queries.
type Searcher struct {
	finder     FileFinder
	debounce   time.Duration
	maxResults int
	excludes   []string
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewSearcher creates a Searcher. Invalid exclude patterns are rejected.
func NewSearcher(finder FileFinder, log *logger.Logger, opts SearchOptions) (*Searcher, error) {
	for _, pattern := range opts.Excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	s := &Searcher{
		finder:     finder,
		debounce:   opts.Debounce,
		maxResults: opts.MaxResults,
		excludes:   opts.Excludes,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		logger:     log.WithFields(zap.String("component", "mention-search")),
	}
	if s.debounce <= 0 {
		s.debounce = defaultDebounce
	}
	if s.maxResults <= 0 {
		s.maxResults = defaultMaxResults
	}
	if opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return s, nil
}

// Find searches immediately, without debouncing.
func (s *Searcher) Find(ctx context.Context, query string) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	paths, err := s.finder.FindFiles(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, min(len(paths), s.maxResults))
	for _, p := range paths {
		if s.excluded(p) {
			continue
		}
		out = append(out, p)
		if len(out) == s.maxResults {
			break
		}
	}
	return out, nil
}

func (s *Searcher) excluded(path string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Result is the outcome of one debounced query.
type Result struct {
	Seq   uint64
	Query string
	Paths []string
	Err   error
}

// Query is the debounced search state of one client. Each Update supersedes
// the previous one: its timer is stopped, its request cancelled, and its
// result never delivered.
type Query struct {
	searcher *Searcher
	deliver  func(Result)

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
}

// NewQuery creates debounced query state. deliver is called with the lock
// held, so it must not call back into the Query.
func (s *Searcher) NewQuery(deliver func(Result)) *Query {
	return &Query{searcher: s, deliver: deliver}
}

// Update schedules a search for text after the debounce window and returns
// its sequence number.
func (q *Query) Update(text string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	seq := q.seq
	q.stopLocked()
	if q.closed {
		return seq
	}
	q.timer = time.AfterFunc(q.searcher.debounce, func() { q.run(seq, text) })
	return seq
}

func (q *Query) run(seq uint64, text string) {
	q.mu.Lock()
	if q.closed || seq != q.seq {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	q.cancel = cancel
	q.mu.Unlock()

	paths, err := q.searcher.Find(ctx, text)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || seq != q.seq {
		q.searcher.logger.Debug("dropping superseded search", zap.String("query", text))
		return
	}
	q.cancel = nil
	q.deliver(Result{Seq: seq, Query: text, Paths: paths, Err: err})
}

func (q *Query) stopLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

// Close stops pending work. No result is delivered after Close returns.
func (q *Query) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.stopLocked()
}

// FileFinderFunc adapts a function to FileFinder.
type FileFinderFunc func(ctx context.Context, query string) ([]string, error)

func (f FileFinderFunc) FindFiles(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}
