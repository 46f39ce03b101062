package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/events"
	"github.com/ramarivera/portal/internal/events/bus"
	"github.com/ramarivera/portal/internal/settings/models"
	"github.com/ramarivera/portal/internal/settings/store"
)

func ptr[T any](v T) *T { return &v }

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string]models.Settings
}

func (r *memoryRepo) GetSettings(_ context.Context, userID string) (*models.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (r *memoryRepo) UpsertSettings(_ context.Context, s *models.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = make(map[string]models.Settings)
	}
	s.UpdatedAt = time.Now().UTC()
	r.rows[s.UserID] = *s
	return nil
}

func TestGetSettings_DefaultsWhenMissing(t *testing.T) {
	svc := NewService(&memoryRepo{}, nil, logger.NewNop())

	got, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.DefaultUserID, got.UserID)
	assert.Equal(t, models.ThemeSystem, got.Theme)
}

func TestUpdateSettings(t *testing.T) {
	tests := []struct {
		name    string
		req     *UpdateSettingsRequest
		wantErr bool
		check   func(t *testing.T, s *models.Settings)
	}{
		{
			name: "theme is normalized",
			req:  &UpdateSettingsRequest{Theme: ptr(" Dark ")},
			check: func(t *testing.T, s *models.Settings) {
				assert.Equal(t, models.ThemeDark, s.Theme)
			},
		},
		{
			name:    "unknown theme",
			req:     &UpdateSettingsRequest{Theme: ptr("neon")},
			wantErr: true,
		},
		{
			name: "model pair",
			req:  &UpdateSettingsRequest{ProviderID: ptr("anthropic"), ModelID: ptr("claude")},
			check: func(t *testing.T, s *models.Settings) {
				assert.True(t, s.HasModel())
			},
		},
		{
			name:    "model without provider",
			req:     &UpdateSettingsRequest{ModelID: ptr("claude")},
			wantErr: true,
		},
		{
			name: "toggles",
			req:  &UpdateSettingsRequest{SendOnEnter: ptr(false), AutoScroll: ptr(false)},
			check: func(t *testing.T, s *models.Settings) {
				assert.False(t, s.SendOnEnter)
				assert.False(t, s.AutoScroll)
				assert.Equal(t, models.ThemeSystem, s.Theme)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&memoryRepo{}, nil, logger.NewNop())
			got, err := svc.UpdateSettings(context.Background(), tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)

			stored, err := svc.GetSettings(context.Background())
			require.NoError(t, err)
			assert.Equal(t, got.Theme, stored.Theme)
		})
	}
}

func TestUpdateSettings_PublishesEvent(t *testing.T) {
	log := logger.NewNop()
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	got := make(chan *bus.Event, 1)
	_, err := b.Subscribe(events.SettingsUpdated, func(_ context.Context, e *bus.Event) error {
		got <- e
		return nil
	})
	require.NoError(t, err)

	svc := NewService(&memoryRepo{}, b, log)
	_, err = svc.UpdateSettings(context.Background(), &UpdateSettingsRequest{Theme: ptr("light")})
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, events.SettingsUpdated, e.Type)
		assert.Equal(t, models.ThemeLight, e.Data.(models.Settings).Theme)
	case <-time.After(2 * time.Second):
		t.Fatal("settings event not published")
	}
}
