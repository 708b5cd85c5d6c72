// Package store provides storage backends for VoiceIntake.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
		return err
	}
	return nil
}

func (s *PostgresStore) saveHandoff(ctx context.Context, participantID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("PostgresStore saveHandoff marshal failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoffs (participant_id, kind, payload) VALUES ($1, $2, $3)
		ON CONFLICT (participant_id, kind) DO UPDATE SET payload = EXCLUDED.payload, created_at = NOW()`,
		participantID, kind, string(data))
	if err != nil {
		slog.Error("PostgresStore saveHandoff failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to save %s handoff for %s: %w", kind, participantID, err)
	}
	slog.Debug("PostgresStore saveHandoff succeeded", "participantID", participantID, "kind", kind)
	return nil
}

func (s *PostgresStore) consumeHandoff(ctx context.Context, participantID, kind string, dest any) error {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM handoffs WHERE participant_id = $1 AND kind = $2 RETURNING payload`,
		participantID, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore consumeHandoff empty", "participantID", participantID, "kind", kind)
		return models.ErrNoHandoff
	}
	if err != nil {
		slog.Error("PostgresStore consumeHandoff failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to consume %s handoff for %s: %w", kind, participantID, err)
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		slog.Error("PostgresStore consumeHandoff unmarshal failed", "error", err, "participantID", participantID, "kind", kind)
		return fmt.Errorf("failed to unmarshal %s payload: %w", kind, err)
	}
	slog.Debug("PostgresStore consumeHandoff succeeded", "participantID", participantID, "kind", kind)
	return nil
}

// SaveVoiceProfile stores a finished onboarding profile.
func (s *PostgresStore) SaveVoiceProfile(ctx context.Context, participantID string, profile models.VoiceProfile) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindVoiceProfile, profile)
}

// ConsumeVoiceProfile returns and deletes the pending voice profile.
func (s *PostgresStore) ConsumeVoiceProfile(ctx context.Context, participantID string) (models.VoiceProfile, error) {
	var profile models.VoiceProfile
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindVoiceProfile, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveExamContext stores the pending exam's context.
func (s *PostgresStore) SaveExamContext(ctx context.Context, participantID string, examCtx models.ExamContext) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindExamContext, examCtx)
}

// ConsumeExamContext returns and deletes the pending exam context.
func (s *PostgresStore) ConsumeExamContext(ctx context.Context, participantID string) (models.ExamContext, error) {
	var examCtx models.ExamContext
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindExamContext, &examCtx); err != nil {
		return models.ExamContext{}, err
	}
	return examCtx, nil
}

// SaveExamResult stores a finished exam session's responses.
func (s *PostgresStore) SaveExamResult(ctx context.Context, participantID string, result models.ExamResult) error {
	return s.saveHandoff(ctx, participantID, models.HandoffKindExamResult, result)
}

// ConsumeExamResult returns and deletes the pending exam result.
func (s *PostgresStore) ConsumeExamResult(ctx context.Context, participantID string) (models.ExamResult, error) {
	var result models.ExamResult
	if err := s.consumeHandoff(ctx, participantID, models.HandoffKindExamResult, &result); err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

// SaveSessionSnapshot stores or refreshes an in-flight session snapshot.
func (s *PostgresStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		slog.Error("PostgresStore SaveSessionSnapshot marshal failed", "error", err, "session", snap.ID)
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, participant_id, flow_type, exam_type, current_index, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			current_index = EXCLUDED.current_index,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		snap.ID, snap.ParticipantID, string(snap.Flow), snap.ExamType, snap.CurrentIndex, string(state))
	if err != nil {
		slog.Error("PostgresStore SaveSessionSnapshot failed", "error", err, "session", snap.ID)
		return fmt.Errorf("failed to save session snapshot %s: %w", snap.ID, err)
	}
	slog.Debug("PostgresStore SaveSessionSnapshot succeeded", "session", snap.ID, "index", snap.CurrentIndex)
	return nil
}

// GetSessionSnapshot retrieves a session snapshot by ID.
func (s *PostgresStore) GetSessionSnapshot(ctx context.Context, id string) (models.SessionSnapshot, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionSnapshot{}, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSessionSnapshot failed", "error", err, "session", id)
		return models.SessionSnapshot{}, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return snap, nil
}

// ListSessionSnapshots returns all persisted in-flight sessions.
func (s *PostgresStore) ListSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM sessions ORDER BY updated_at`)
	if err != nil {
		slog.Error("PostgresStore ListSessionSnapshots query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var snaps []models.SessionSnapshot
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			slog.Error("PostgresStore ListSessionSnapshots scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var snap models.SessionSnapshot
		if err := json.Unmarshal([]byte(state), &snap); err != nil {
			slog.Error("PostgresStore ListSessionSnapshots unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to unmarshal session row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListSessionSnapshots succeeded", "count", len(snaps))
	return snaps, nil
}

// DeleteSessionSnapshot removes a session snapshot.
func (s *PostgresStore) DeleteSessionSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore DeleteSessionSnapshot failed", "error", err, "session", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteSessionSnapshot succeeded", "session", id)
	return nil
}
