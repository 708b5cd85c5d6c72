// Package recovery restores in-flight interview sessions after a daemon
// restart. Sessions persist a snapshot after every accepted answer; on
// startup the manager walks the surviving snapshots and hands each one to a
// resumer that reattaches it to a live channel.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// SessionResumer reattaches one persisted session to a live channel.
type SessionResumer interface {
	ResumeSession(ctx context.Context, snap models.SessionSnapshot) error
}

// SnapshotSource lists the session snapshots that survived the restart.
type SnapshotSource interface {
	ListSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error)
}

// Manager orchestrates session recovery at startup.
type Manager struct {
	snapshots SnapshotSource
	resumer   SessionResumer
}

// NewManager creates a recovery manager.
func NewManager(snapshots SnapshotSource, resumer SessionResumer) *Manager {
	return &Manager{snapshots: snapshots, resumer: resumer}
}

// RecoverAll resumes every persisted session. Sessions that cannot be
// resumed are logged and skipped; their snapshots stay in the store so a
// later restart can try again.
func (m *Manager) RecoverAll(ctx context.Context) error {
	snaps, err := m.snapshots.ListSessionSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list session snapshots: %w", err)
	}
	if len(snaps) == 0 {
		slog.Info("Recovery found no sessions to resume")
		return nil
	}
	slog.Info("Recovery starting", "sessions", len(snaps))

	recovered := 0
	failed := 0
	for _, snap := range snaps {
		if err := m.resumer.ResumeSession(ctx, snap); err != nil {
			slog.Error("Recovery failed to resume session", "session", snap.ID, "participant", snap.ParticipantID, "flow", snap.Flow, "error", err)
			failed++
			continue
		}
		recovered++
	}

	slog.Info("Recovery completed", "recovered", recovered, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("recovery resumed %d of %d sessions", recovered, len(snaps))
	}
	return nil
}
