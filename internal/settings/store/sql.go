package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ramarivera/portal/internal/db"
	"github.com/ramarivera/portal/internal/db/dialect"
	"github.com/ramarivera/portal/internal/settings/models"
)

// SQLRepository stores settings in SQLite or PostgreSQL.
type SQLRepository struct {
	pool *db.Pool
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates the schema when missing and seeds the default user.
func NewSQLRepository(ctx context.Context, pool *db.Pool) (*SQLRepository, error) {
	repo := &SQLRepository{pool: pool}
	if err := repo.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize settings schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS settings (
		user_id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL DEFAULT '',
		model_id TEXT NOT NULL DEFAULT '',
		theme TEXT NOT NULL DEFAULT 'system',
		send_on_enter INTEGER NOT NULL DEFAULT 1,
		auto_scroll INTEGER NOT NULL DEFAULT 1,
		updated_at %s NOT NULL
	)`, dialect.TimestampType(r.pool.Driver()))
	if _, err := r.pool.Writer().ExecContext(ctx, schema); err != nil {
		return err
	}

	_, err := r.GetSettings(ctx, DefaultUserID)
	if errors.Is(err, ErrNotFound) {
		return r.UpsertSettings(ctx, models.Defaults(DefaultUserID))
	}
	return err
}

type settingsRow struct {
	UserID      string    `db:"user_id"`
	ProviderID  string    `db:"provider_id"`
	ModelID     string    `db:"model_id"`
	Theme       string    `db:"theme"`
	SendOnEnter int       `db:"send_on_enter"`
	AutoScroll  int       `db:"auto_scroll"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *SQLRepository) GetSettings(ctx context.Context, userID string) (*models.Settings, error) {
	reader := r.pool.Reader()
	var row settingsRow
	err := reader.GetContext(ctx, &row, reader.Rebind(`
		SELECT user_id, provider_id, model_id, theme, send_on_enter, auto_scroll, updated_at
		FROM settings WHERE user_id = ?
	`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.Settings{
		UserID:      row.UserID,
		ProviderID:  row.ProviderID,
		ModelID:     row.ModelID,
		Theme:       row.Theme,
		SendOnEnter: row.SendOnEnter != 0,
		AutoScroll:  row.AutoScroll != 0,
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func (r *SQLRepository) UpsertSettings(ctx context.Context, settings *models.Settings) error {
	settings.UpdatedAt = time.Now().UTC()
	writer := r.pool.Writer()
	_, err := writer.ExecContext(ctx, writer.Rebind(`
		INSERT INTO settings (user_id, provider_id, model_id, theme, send_on_enter, auto_scroll, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			provider_id = excluded.provider_id,
			model_id = excluded.model_id,
			theme = excluded.theme,
			send_on_enter = excluded.send_on_enter,
			auto_scroll = excluded.auto_scroll,
			updated_at = excluded.updated_at
	`),
		settings.UserID,
		settings.ProviderID,
		settings.ModelID,
		settings.Theme,
		dialect.BoolToInt(settings.SendOnEnter),
		dialect.BoolToInt(settings.AutoScroll),
		settings.UpdatedAt,
	)
	return err
}
