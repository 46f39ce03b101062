package dto

import (
	"time"

	"github.com/ramarivera/portal/internal/settings/models"
)

type SettingsDTO struct {
	ProviderID  string `json:"provider_id"`
	ModelID     string `json:"model_id"`
	Theme       string `json:"theme"`
	SendOnEnter bool   `json:"send_on_enter"`
	AutoScroll  bool   `json:"auto_scroll"`
	UpdatedAt   string `json:"updated_at"`
}

type SettingsResponse struct {
	Settings SettingsDTO `json:"settings"`
}

type UpdateSettingsRequest struct {
	ProviderID  *string `json:"provider_id,omitempty"`
	ModelID     *string `json:"model_id,omitempty"`
	Theme       *string `json:"theme,omitempty"`
	SendOnEnter *bool   `json:"send_on_enter,omitempty"`
	AutoScroll  *bool   `json:"auto_scroll,omitempty"`
}

func FromSettings(s *models.Settings) SettingsDTO {
	out := SettingsDTO{
		ProviderID:  s.ProviderID,
		ModelID:     s.ModelID,
		Theme:       s.Theme,
		SendOnEnter: s.SendOnEnter,
		AutoScroll:  s.AutoScroll,
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return out
}
