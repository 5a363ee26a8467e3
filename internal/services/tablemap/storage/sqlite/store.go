// Package sqlite provides a SQLite-backed scene and token store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const tokenColumns = `id, scene_id, session_id, owner_user_id, name, x_cell, y_cell, sprite, visibility, version, created_at, updated_at`

// Store persists scenes and tokens in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	// modernc.org/sqlite reads pragmas only from _pragma parameters.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers so concurrent CAS attempts queue
	// instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(ctx, sqlDB, migrations.FS, time.Now); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutScene inserts or replaces a scene.
func (s *Store) PutScene(ctx context.Context, scene domain.Scene) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := scene.Validate(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO scenes (id, session_id, name, grid_size, width_px, height_px, map_image, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   session_id = excluded.session_id,
		   name = excluded.name,
		   grid_size = excluded.grid_size,
		   width_px = excluded.width_px,
		   height_px = excluded.height_px,
		   map_image = excluded.map_image,
		   updated_at = excluded.updated_at`,
		scene.ID,
		scene.SessionID,
		scene.Name,
		scene.GridSize,
		scene.WidthPx,
		scene.HeightPx,
		scene.MapImage,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put scene: %w", err)
	}
	return nil
}

// FindScene returns the scene when it belongs to sessionID.
func (s *Store) FindScene(ctx context.Context, sessionID, sceneID string) (domain.Scene, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Scene{}, err
	}
	var scene domain.Scene
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, name, grid_size, width_px, height_px, map_image
		 FROM scenes WHERE id = ? AND session_id = ?`,
		strings.TrimSpace(sceneID),
		sessionID,
	).Scan(&scene.ID, &scene.SessionID, &scene.Name, &scene.GridSize, &scene.WidthPx, &scene.HeightPx, &scene.MapImage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Scene{}, storage.ErrNotFound
		}
		return domain.Scene{}, fmt.Errorf("find scene: %w", err)
	}
	return scene, nil
}

// FindToken returns the token when it belongs to sessionID.
func (s *Store) FindToken(ctx context.Context, sessionID, tokenID string) (domain.Token, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Token{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = ? AND session_id = ?`,
		strings.TrimSpace(tokenID),
		sessionID,
	)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Token{}, storage.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("find token: %w", err)
	}
	return token, nil
}

// CreateToken inserts a new token row.
func (s *Store) CreateToken(ctx context.Context, token domain.Token) (domain.Token, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Token{}, err
	}
	if strings.TrimSpace(token.ID) == "" {
		return domain.Token{}, fmt.Errorf("token id is required")
	}
	var owner sql.NullString
	if token.OwnerUserID != nil {
		owner = sql.NullString{String: *token.OwnerUserID, Valid: true}
	}
	visibility := token.Visibility
	if visibility == "" {
		visibility = domain.VisibilityVisible
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+tokenColumns,
		token.ID,
		token.SceneID,
		token.SessionID,
		owner,
		token.Name,
		token.XCell,
		token.YCell,
		token.Sprite,
		string(visibility),
		token.Version,
		toMillis(token.CreatedAt),
		toMillis(token.UpdatedAt),
	)
	created, err := scanToken(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Token{}, storage.ErrAlreadyExists
		}
		return domain.Token{}, fmt.Errorf("create token: %w", err)
	}
	return created, nil
}

// UpdateToken is a single conditional UPDATE ... RETURNING; the version
// predicate makes it the compare-and-swap and the returned row is the one
// this call wrote.
func (s *Store) UpdateToken(ctx context.Context, tokenID string, expectedVersion int64, patch storage.TokenPatch) (domain.Token, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Token{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`UPDATE tokens
		 SET x_cell = ?, y_cell = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?
		 RETURNING `+tokenColumns,
		patch.XCell,
		patch.YCell,
		toMillis(patch.UpdatedAt),
		tokenID,
		expectedVersion,
	)
	token, err := scanToken(row)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Token{}, fmt.Errorf("update token: %w", err)
	}
	if _, err := s.findTokenByID(ctx, tokenID); errors.Is(err, storage.ErrNotFound) {
		return domain.Token{}, storage.ErrNotFound
	}
	return domain.Token{}, storage.ErrStaleUpdate
}

// ListTokens returns the scene's tokens ordered by creation time.
func (s *Store) ListTokens(ctx context.Context, sessionID, sceneID string) ([]domain.Token, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+tokenColumns+` FROM tokens
		 WHERE session_id = ? AND scene_id = ?
		 ORDER BY created_at, id`,
		sessionID,
		sceneID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]domain.Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) findTokenByID(ctx context.Context, tokenID string) (domain.Token, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, tokenID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Token{}, storage.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.Token, error) {
	var (
		token      domain.Token
		owner      sql.NullString
		visibility string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&token.ID,
		&token.SceneID,
		&token.SessionID,
		&owner,
		&token.Name,
		&token.XCell,
		&token.YCell,
		&token.Sprite,
		&visibility,
		&token.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Token{}, err
	}
	if owner.Valid {
		value := owner.String
		token.OwnerUserID = &value
	}
	token.Visibility = domain.Visibility(visibility)
	token.CreatedAt = fromMillis(createdAt)
	token.UpdatedAt = fromMillis(updatedAt)
	return token, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.Store = (*Store)(nil)
