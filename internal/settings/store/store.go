package store

import (
	"context"
	"errors"

	"github.com/ramarivera/portal/internal/settings/models"
)

// DefaultUserID owns the settings of the single local user.
const DefaultUserID = "default-user"

// ErrNotFound is returned when no settings row exists for a user.
var ErrNotFound = errors.New("settings not found")

type Repository interface {
	GetSettings(ctx context.Context, userID string) (*models.Settings, error)
	UpsertSettings(ctx context.Context, settings *models.Settings) error
}
