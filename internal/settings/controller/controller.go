package controller

import (
	"context"

	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/settings/dto"
	"github.com/ramarivera/portal/internal/settings/service"
)

type Controller struct {
	svc *service.Service
}

func NewController(svc *service.Service) *Controller {
	return &Controller{svc: svc}
}

func (c *Controller) GetSettings(ctx context.Context) (dto.SettingsResponse, error) {
	settings, err := c.svc.GetSettings(ctx)
	if err != nil {
		return dto.SettingsResponse{}, err
	}
	return dto.SettingsResponse{Settings: dto.FromSettings(settings)}, nil
}

func (c *Controller) UpdateSettings(ctx context.Context, req dto.UpdateSettingsRequest) (dto.SettingsResponse, error) {
	settings, err := c.svc.UpdateSettings(ctx, &service.UpdateSettingsRequest{
		ProviderID:  req.ProviderID,
		ModelID:     req.ModelID,
		Theme:       req.Theme,
		SendOnEnter: req.SendOnEnter,
		AutoScroll:  req.AutoScroll,
	})
	if err != nil {
		return dto.SettingsResponse{}, err
	}
	return dto.SettingsResponse{Settings: dto.FromSettings(settings)}, nil
}

// DefaultModel returns the model selected in settings, or nil when none is.
func (c *Controller) DefaultModel(ctx context.Context) *queue.ModelRef {
	settings, err := c.svc.GetSettings(ctx)
	if err != nil || !settings.HasModel() {
		return nil
	}
	return &queue.ModelRef{ProviderID: settings.ProviderID, ModelID: settings.ModelID}
}
