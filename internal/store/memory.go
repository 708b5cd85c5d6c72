// Package store provides storage backends for VoiceIntake.
//
// This file implements an in-memory store with expiring entries, used in
// tests and single-process deployments where persistence across restarts is
// not needed.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

const (
	// DefaultHandoffTTL bounds how long an unconsumed handoff payload
	// survives in memory.
	DefaultHandoffTTL = 24 * time.Hour
	// DefaultCleanupInterval is how often expired entries are purged.
	DefaultCleanupInterval = 10 * time.Minute
)

// MemoryStore implements Store on an in-process cache. Handoff payloads
// expire after DefaultHandoffTTL; session snapshots do not expire.
type MemoryStore struct {
	mu       sync.Mutex
	handoffs *cache.Cache
	sessions *cache.Cache
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		handoffs: cache.New(DefaultHandoffTTL, DefaultCleanupInterval),
		sessions: cache.New(cache.NoExpiration, DefaultCleanupInterval),
	}
}

// Close releases nothing for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func handoffKey(participantID, kind string) string {
	return participantID + "|" + kind
}

func (s *MemoryStore) saveHandoff(participantID, kind string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs.Set(handoffKey(participantID, kind), payload, cache.DefaultExpiration)
	slog.Debug("MemoryStore saveHandoff succeeded", "participantID", participantID, "kind", kind)
	return nil
}

func (s *MemoryStore) consumeHandoff(participantID, kind string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := handoffKey(participantID, kind)
	payload, found := s.handoffs.Get(key)
	if !found {
		slog.Debug("MemoryStore consumeHandoff empty", "participantID", participantID, "kind", kind)
		return nil, models.ErrNoHandoff
	}
	s.handoffs.Delete(key)
	slog.Debug("MemoryStore consumeHandoff succeeded", "participantID", participantID, "kind", kind)
	return payload, nil
}

// SaveVoiceProfile stores a finished onboarding profile.
func (s *MemoryStore) SaveVoiceProfile(ctx context.Context, participantID string, profile models.VoiceProfile) error {
	return s.saveHandoff(participantID, models.HandoffKindVoiceProfile, profile)
}

// ConsumeVoiceProfile returns and deletes the pending voice profile.
func (s *MemoryStore) ConsumeVoiceProfile(ctx context.Context, participantID string) (models.VoiceProfile, error) {
	payload, err := s.consumeHandoff(participantID, models.HandoffKindVoiceProfile)
	if err != nil {
		return nil, err
	}
	profile, ok := payload.(models.VoiceProfile)
	if !ok {
		return nil, fmt.Errorf("unexpected voice profile payload type %T", payload)
	}
	return profile, nil
}

// SaveExamContext stores the pending exam's context.
func (s *MemoryStore) SaveExamContext(ctx context.Context, participantID string, examCtx models.ExamContext) error {
	return s.saveHandoff(participantID, models.HandoffKindExamContext, examCtx)
}

// ConsumeExamContext returns and deletes the pending exam context.
func (s *MemoryStore) ConsumeExamContext(ctx context.Context, participantID string) (models.ExamContext, error) {
	payload, err := s.consumeHandoff(participantID, models.HandoffKindExamContext)
	if err != nil {
		return models.ExamContext{}, err
	}
	examCtx, ok := payload.(models.ExamContext)
	if !ok {
		return models.ExamContext{}, fmt.Errorf("unexpected exam context payload type %T", payload)
	}
	return examCtx, nil
}

// SaveExamResult stores a finished exam session's responses.
func (s *MemoryStore) SaveExamResult(ctx context.Context, participantID string, result models.ExamResult) error {
	return s.saveHandoff(participantID, models.HandoffKindExamResult, result)
}

// ConsumeExamResult returns and deletes the pending exam result.
func (s *MemoryStore) ConsumeExamResult(ctx context.Context, participantID string) (models.ExamResult, error) {
	payload, err := s.consumeHandoff(participantID, models.HandoffKindExamResult)
	if err != nil {
		return models.ExamResult{}, err
	}
	result, ok := payload.(models.ExamResult)
	if !ok {
		return models.ExamResult{}, fmt.Errorf("unexpected exam result payload type %T", payload)
	}
	return result, nil
}

// SaveSessionSnapshot stores or refreshes an in-flight session snapshot.
func (s *MemoryStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	s.sessions.Set(snap.ID, snap, cache.NoExpiration)
	slog.Debug("MemoryStore SaveSessionSnapshot succeeded", "session", snap.ID, "index", snap.CurrentIndex)
	return nil
}

// GetSessionSnapshot retrieves a session snapshot by ID.
func (s *MemoryStore) GetSessionSnapshot(ctx context.Context, id string) (models.SessionSnapshot, error) {
	payload, found := s.sessions.Get(id)
	if !found {
		return models.SessionSnapshot{}, models.ErrSessionNotFound
	}
	snap, ok := payload.(models.SessionSnapshot)
	if !ok {
		return models.SessionSnapshot{}, fmt.Errorf("unexpected session payload type %T", payload)
	}
	return snap, nil
}

// ListSessionSnapshots returns all persisted in-flight sessions.
func (s *MemoryStore) ListSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error) {
	items := s.sessions.Items()
	snaps := make([]models.SessionSnapshot, 0, len(items))
	for _, item := range items {
		if snap, ok := item.Object.(models.SessionSnapshot); ok {
			snaps = append(snaps, snap)
		}
	}
	slog.Debug("MemoryStore ListSessionSnapshots succeeded", "count", len(snaps))
	return snaps, nil
}

// DeleteSessionSnapshot removes a session snapshot.
func (s *MemoryStore) DeleteSessionSnapshot(ctx context.Context, id string) error {
	s.sessions.Delete(id)
	slog.Debug("MemoryStore DeleteSessionSnapshot succeeded", "session", id)
	return nil
}
