package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apicontroller "github.com/ramarivera/portal/internal/api/controller"
	apihandlers "github.com/ramarivera/portal/internal/api/handlers"
	"github.com/ramarivera/portal/internal/chat"
	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/config"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/db"
	"github.com/ramarivera/portal/internal/events"
	gateways "github.com/ramarivera/portal/internal/gateway/websocket"
	"github.com/ramarivera/portal/internal/mention"
	"github.com/ramarivera/portal/internal/metrics"
	settingscontroller "github.com/ramarivera/portal/internal/settings/controller"
	settingshandlers "github.com/ramarivera/portal/internal/settings/handlers"
	settingsservice "github.com/ramarivera/portal/internal/settings/service"
	settingsstore "github.com/ramarivera/portal/internal/settings/store"
	"github.com/ramarivera/portal/internal/tracing"
	"github.com/ramarivera/portal/pkg/opencode"
)

const shutdownTimeout = 15 * time.Second

// app holds the wired components and tears them down in order.
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	server      *http.Server
	upstream    *opencode.Client
	manager     *chat.Manager
	live        *chat.LiveRefresher
	api         *apihandlers.Handlers
	broadcaster *gateways.ChatBroadcaster
	pool        *db.Pool
	closeBus    func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	traced, err := tracing.Init(ctx, tracing.Options{
		Endpoint:          cfg.Tracing.Endpoint,
		ServiceName:       cfg.Tracing.ServiceName,
		Version:           version,
		SampleRatio:       cfg.Tracing.SampleRatio,
		UpstreamURL:       cfg.Upstream.URL,
		UpstreamDirectory: cfg.Upstream.Directory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if traced {
		log.Info("exporting traces", zap.String("endpoint", cfg.Tracing.Endpoint), zap.Float64("sample_ratio", cfg.Tracing.SampleRatio))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	provided, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		return nil, err
	}
	a.closeBus = closeBus
	eventBus := provided.Bus

	pool, err := db.Open(cfg.Database, log)
	if err != nil {
		_ = closeBus()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.pool = pool
	settingsRepo, err := settingsstore.NewSQLRepository(ctx, pool)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	settingsCtrl := settingscontroller.NewController(settingsservice.NewService(settingsRepo, eventBus, log))

	a.upstream = opencode.NewClient(opencode.Options{
		BaseURL:   cfg.Upstream.URL,
		Directory: cfg.Upstream.Directory,
		Password:  cfg.Upstream.Password,
		Timeout:   cfg.Upstream.Timeout(),
	}, log)

	publisher := chat.NewPublisher(eventBus, log)
	messages := store.New(chat.NewFetcher(a.upstream), log,
		store.WithObserver(publisher),
		store.WithMetrics(m))
	a.manager = chat.NewManager(messages, chat.NewDispatcher(a.upstream), log, queue.Options{
		Policy:          queue.FailurePolicy(cfg.Chat.FailurePolicy),
		DispatchTimeout: cfg.Chat.DispatchTimeout(),
		Notifier:        publisher,
		Metrics:         m,
	})
	if cfg.Upstream.LiveEvents {
		a.live = chat.NewLiveRefresher(a.upstream, a.manager, log)
	}

	searcher, err := mention.NewSearcher(a.upstream, log, mention.SearchOptions{
		Debounce:      cfg.Mention.Debounce(),
		MaxResults:    cfg.Mention.MaxResults,
		Excludes:      cfg.Mention.Excludes,
		RatePerSecond: cfg.Mention.SearchRatePerSecond,
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("invalid mention configuration: %w", err)
	}

	gateway := gateways.NewGateway(log)
	gateway.Hub.SetSessionLifecycle(a.manager)
	go gateway.Hub.Run(ctx)
	a.broadcaster = gateways.RegisterChatNotifications(ctx, eventBus, gateway.Hub, log)

	router := newRouter(cfg, log, m)
	gateway.SetupRoutes(router)
	apiCtrl := apicontroller.NewController(a.upstream, a.manager, searcher, settingsCtrl, log)
	a.api = apihandlers.RegisterRoutes(router, gateway.Dispatcher, apiCtrl, log)
	settingshandlers.RegisterRoutes(router, gateway.Dispatcher, settingsCtrl, log)
	if cfg.Server.StaticDir != "" {
		router.NoRoute(staticHandler(cfg.Server.StaticDir))
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	return a, nil
}

// run serves until ctx is cancelled, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	go func() {
		if err := a.upstream.WaitForHealth(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("OpenCode server not reachable yet", zap.String("url", a.cfg.Upstream.URL), zap.Error(err))
		}
	}()
	if a.live != nil {
		go a.live.Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	a.log.Info("Shutting down portal...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("HTTP server shutdown error", zap.Error(err))
	}
	a.api.Close()
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("in-flight prompts aborted at shutdown", zap.Error(err))
	}
	a.broadcaster.Close()
	a.closeResources()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("tracing shutdown error", zap.Error(err))
	}

	a.log.Info("portal stopped")
	return runErr
}

func (a *app) closeResources() {
	if a.closeBus != nil {
		if err := a.closeBus(); err != nil {
			a.log.Warn("event bus close error", zap.Error(err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.log.Warn("database close error", zap.Error(err))
		}
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
