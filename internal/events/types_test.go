package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramarivera/portal/internal/common/config"
	"github.com/ramarivera/portal/internal/common/logger"
)

func TestChatSubjectRoundTrip(t *testing.T) {
	subject := ChatSubject("ses_123", QueueError)
	assert.Equal(t, "chat.ses_123.queue.error", subject)

	sid, typ, ok := ParseChatSubject(subject)
	require.True(t, ok)
	assert.Equal(t, "ses_123", sid)
	assert.Equal(t, QueueError, typ)
}

func TestParseChatSubject_Invalid(t *testing.T) {
	for _, s := range []string{"", "chat.", "chat.s1", "chat..x", "chat.s1.", "settings.updated"} {
		_, _, ok := ParseChatSubject(s)
		assert.False(t, ok, s)
	}
}

func TestProvide_DefaultsToMemory(t *testing.T) {
	provided, cleanup, err := Provide(&config.Config{}, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, provided.Memory)
	assert.Nil(t, provided.NATS)
	assert.True(t, provided.Bus.IsConnected())
	require.NoError(t, cleanup())
	assert.False(t, provided.Bus.IsConnected())
}
