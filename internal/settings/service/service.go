package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/events"
	"github.com/ramarivera/portal/internal/events/bus"
	"github.com/ramarivera/portal/internal/settings/models"
	"github.com/ramarivera/portal/internal/settings/store"
)

// ErrInvalidSettings wraps every validation failure of an update.
var ErrInvalidSettings = errors.New("invalid settings")

type Service struct {
	repo        store.Repository
	eventBus    bus.EventBus
	logger      *logger.Logger
	defaultUser string
}

// UpdateSettingsRequest carries the fields to change; nil fields are kept.
type UpdateSettingsRequest struct {
	ProviderID  *string
	ModelID     *string
	Theme       *string
	SendOnEnter *bool
	AutoScroll  *bool
}

func NewService(repo store.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		eventBus:    eventBus,
		logger:      log.WithFields(zap.String("component", "settings-service")),
		defaultUser: store.DefaultUserID,
	}
}

func (s *Service) GetSettings(ctx context.Context) (*models.Settings, error) {
	settings, err := s.repo.GetSettings(ctx, s.defaultUser)
	if errors.Is(err, store.ErrNotFound) {
		return models.Defaults(s.defaultUser), nil
	}
	return settings, err
}

func (s *Service) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*models.Settings, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if err := applyUpdate(settings, req); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return nil, err
	}
	s.publishSettingsEvent(ctx, settings)
	return settings, nil
}

func applyUpdate(settings *models.Settings, req *UpdateSettingsRequest) error {
	if req.Theme != nil {
		switch theme := strings.ToLower(strings.TrimSpace(*req.Theme)); theme {
		case models.ThemeSystem, models.ThemeLight, models.ThemeDark:
			settings.Theme = theme
		default:
			return fmt.Errorf("%w: theme must be system, light or dark", ErrInvalidSettings)
		}
	}
	if req.ProviderID != nil {
		settings.ProviderID = strings.TrimSpace(*req.ProviderID)
	}
	if req.ModelID != nil {
		settings.ModelID = strings.TrimSpace(*req.ModelID)
	}
	if (settings.ProviderID == "") != (settings.ModelID == "") {
		return fmt.Errorf("%w: provider_id and model_id must be set together", ErrInvalidSettings)
	}
	if req.SendOnEnter != nil {
		settings.SendOnEnter = *req.SendOnEnter
	}
	if req.AutoScroll != nil {
		settings.AutoScroll = *req.AutoScroll
	}
	return nil
}

func (s *Service) publishSettingsEvent(ctx context.Context, settings *models.Settings) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.SettingsUpdated, "settings-service", *settings)
	if err := s.eventBus.Publish(ctx, events.SettingsUpdated, event); err != nil {
		s.logger.Error("failed to publish settings event", zap.Error(err))
	}
}
