package websocket

import "context"

// Peer is the connection a request arrived on. Handlers use it to push
// notifications back to the same client later.
type Peer interface {
	PeerID() string
	Notify(msg *Message)
	// Closed is closed once the connection has gone away.
	Closed() <-chan struct{}
}

type peerKey struct{}

// WithPeer attaches the originating connection to ctx.
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// PeerFrom returns the connection attached by WithPeer.
func PeerFrom(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(Peer)
	return p, ok
}
