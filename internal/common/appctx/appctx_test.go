package appctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type key struct{}

func TestDetached_SurvivesParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	ctx, cancel := Detached(parent, nil, time.Minute)
	defer cancel()

	cancelParent()

	select {
	case <-ctx.Done():
		t.Fatal("detached context must not follow parent cancellation")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, "v", ctx.Value(key{}))
}

func TestDetached_StopChannelCancels(t *testing.T) {
	stop := make(chan struct{})
	ctx, cancel := Detached(context.Background(), stop, time.Minute)
	defer cancel()

	close(stop)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected cancellation after stop channel closed")
	}
}

func TestDetached_Timeout(t *testing.T) {
	ctx, cancel := Detached(context.Background(), nil, 10*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("expected timeout")
	}
}
