// Package store provides storage backends for VoiceIntake.
//
// Two kinds of state live here: handoff payloads (the voice profile, the
// exam result, and the pending exam context), which are written once and
// consumed once, and session snapshots, which track in-flight interviews so
// they can be resumed after a restart. Backends exist for SQLite, PostgreSQL,
// and an in-memory cache with expiring entries.
package store

import (
	"context"
	"strings"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// Store is the full storage surface. Consume operations return the payload
// and delete it in one step; a second consume yields models.ErrNoHandoff.
type Store interface {
	SaveVoiceProfile(ctx context.Context, participantID string, profile models.VoiceProfile) error
	ConsumeVoiceProfile(ctx context.Context, participantID string) (models.VoiceProfile, error)

	SaveExamContext(ctx context.Context, participantID string, examCtx models.ExamContext) error
	ConsumeExamContext(ctx context.Context, participantID string) (models.ExamContext, error)

	SaveExamResult(ctx context.Context, participantID string, result models.ExamResult) error
	ConsumeExamResult(ctx context.Context, participantID string) (models.ExamResult, error)

	SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error
	GetSessionSnapshot(ctx context.Context, id string) (models.SessionSnapshot, error)
	ListSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error)
	DeleteSessionSnapshot(ctx context.Context, id string) error

	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option configures store constructors.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that
// does not look like a PostgreSQL connection string is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
