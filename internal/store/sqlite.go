// Package store provides storage backends for VoiceIntake.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store. The DSN is the database file
// path; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) saveHandoff(ctx context.Context, participantID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("SQLiteStore saveHandoff marshal failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO handoffs (participant_id, kind, payload) VALUES (?, ?, ?)`,
		participantID, kind, string(data))
	if err != nil {
		slog.Error("SQLiteStore saveHandoff failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to save %s handoff for %s: %w", kind, participantID, err)
	}
	slog.Debug("SQLiteStore saveHandoff succeeded", "participantID", participantID, "kind", kind)
	return nil
}

func (s *SQLiteStore) consumeHandoff(ctx context.Context, participantID, kind string, dest any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM handoffs WHERE participant_id = ? AND kind = ?`,
		participantID, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore consumeHandoff empty", "participantID", participantID, "kind", kind)
		return models.ErrNoHandoff
	}
	if err != nil {
		slog.Error("SQLiteStore consumeHandoff query failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to query %s handoff for %s: %w", kind, participantID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM handoffs WHERE participant_id = ? AND kind = ?`,
		participantID, kind); err != nil {
		slog.Error("SQLiteStore consumeHandoff delete failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to delete %s handoff for %s: %w", kind, participantID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit handoff consume: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		slog.Error("SQLiteStore consumeHandoff unmarshal failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to unmarshal %s payload: %w", kind, err)
	}
	slog.Debug("SQLiteStore consumeHandoff succeeded", "participantID", participantID, "kind", kind)
	return nil
}

// SaveVoiceProfile stores a finished onboarding profile.
func (s *SQLiteStore) SaveVoiceProfile(ctx context.Context, participantID string, profile models.VoiceProfile) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindVoiceProfile, profile)
}

// ConsumeVoiceProfile returns and deletes the pending voice profile.
func (s *SQLiteStore) ConsumeVoiceProfile(ctx context.Context, participantID string) (models.VoiceProfile, error) {
	var profile models.VoiceProfile
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindVoiceProfile, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveExamContext stores the pending exam's context.
func (s *SQLiteStore) SaveExamContext(ctx context.Context, participantID string, examCtx models.ExamContext) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindExamContext, examCtx)
}

// ConsumeExamContext returns and deletes the pending exam context.
func (s *SQLiteStore) ConsumeExamContext(ctx context.Context, participantID string) (models.ExamContext, error) {
	var examCtx models.ExamContext
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindExamContext, &examCtx); err != nil {
		return models.ExamContext{}, err
	}
	return examCtx, nil
}

// SaveExamResult stores a finished exam session's responses.
func (s *SQLiteStore) SaveExamResult(ctx context.Context, participantID string, result models.ExamResult) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindExamResult, result)
}

// ConsumeExamResult returns and deletes the pending exam result.
func (s *SQLiteStore) ConsumeExamResult(ctx context.Context, participantID string) (models.ExamResult, error) {
	var result models.ExamResult
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindExamResult, &result); err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

// SaveSessionSnapshot stores or refreshes an in-flight session snapshot.
func (s *SQLiteStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		slog.Error("SQLiteStore SaveSessionSnapshot marshal failed", "error", err, "session", snap.ID)
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, participant_id, flow_type, exam_type, current_index, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		snap.ID, snap.ParticipantID, string(snap.Flow), snap.ExamType, snap.CurrentIndex, string(state))
	if err != nil {
		slog.Error("SQLiteStore SaveSessionSnapshot failed", "error", err, "session", snap.ID)
		return fmt.Errorf("failed to save session snapshot %s: %w", snap.ID, err)
	}
	slog.Debug("SQLiteStore SaveSessionSnapshot succeeded", "session", snap.ID, "index", snap.CurrentIndex)
	return nil
}

// GetSessionSnapshot retrieves a session snapshot by ID.
func (s *SQLiteStore) GetSessionSnapshot(ctx context.Context, id string) (models.SessionSnapshot, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionSnapshot{}, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSessionSnapshot failed", "error", err, "session", id)
		return models.SessionSnapshot{}, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return snap, nil
}

// ListSessionSnapshots returns all persisted in-flight sessions.
func (s *SQLiteStore) ListSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM sessions ORDER BY updated_at`)
	if err != nil {
		slog.Error("SQLiteStore ListSessionSnapshots query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var snaps []models.SessionSnapshot
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			slog.Error("SQLiteStore ListSessionSnapshots scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var snap models.SessionSnapshot
		if err := json.Unmarshal([]byte(state), &snap); err != nil {
			slog.Error("SQLiteStore ListSessionSnapshots unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal session row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSessionSnapshots succeeded", "count", len(snaps))
	return snaps, nil
}

// DeleteSessionSnapshot removes a session snapshot.
func (s *SQLiteStore) DeleteSessionSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore DeleteSessionSnapshot failed", "error", err, "session", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteSessionSnapshot succeeded", "session", id)
	return nil
}
