package models

import "time"

// Theme values accepted for Settings.Theme.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Settings are the chat UI preferences of one user.
type Settings struct {
	UserID      string    `db:"user_id" json:"user_id"`
	ProviderID  string    `db:"provider_id" json:"provider_id"`
	ModelID     string    `db:"model_id" json:"model_id"`
	Theme       string    `db:"theme" json:"theme"`
	SendOnEnter bool      `db:"send_on_enter" json:"send_on_enter"`
	AutoScroll  bool      `db:"auto_scroll" json:"auto_scroll"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// HasModel reports whether a default model is selected.
func (s *Settings) HasModel() bool {
	return s.ProviderID != "" && s.ModelID != ""
}

// Defaults returns the settings of a user who never saved any.
func Defaults(userID string) *Settings {
	return &Settings{
		UserID:      userID,
		Theme:       ThemeSystem,
		SendOnEnter: true,
		AutoScroll:  true,
	}
}
