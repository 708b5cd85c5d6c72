package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/store"
)

type fakeResumer struct {
	resumed []string
	failIDs map[string]bool
}

func (f *fakeResumer) ResumeSession(ctx context.Context, snap models.SessionSnapshot) error {
	if f.failIDs[snap.ID] {
		return errors.New("channel unavailable")
	}
	f.resumed = append(f.resumed, snap.ID)
	return nil
}

func seedSnapshots(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		snap := models.SessionSnapshot{
			ID:            id,
			ParticipantID: "participant-" + id,
			Flow:          models.FlowTypeOnboarding,
			Channel:       "whatsapp",
			PhoneNumber:   "1555000",
			CurrentIndex:  i,
		}
		if err := st.SaveSessionSnapshot(context.Background(), snap); err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}
	}
}

func TestRecoverAllResumesEverySnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	seedSnapshots(t, st, "s1", "s2", "s3")

	resumer := &fakeResumer{}
	if err := NewManager(st, resumer).RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if len(resumer.resumed) != 3 {
		t.Errorf("resumed = %v, want 3 sessions", resumer.resumed)
	}
}

func TestRecoverAllNoSnapshots(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	resumer := &fakeResumer{}
	if err := NewManager(st, resumer).RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll with empty store failed: %v", err)
	}
	if len(resumer.resumed) != 0 {
		t.Errorf("resumed = %v, want none", resumer.resumed)
	}
}

func TestRecoverAllKeepsFailedSnapshots(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	seedSnapshots(t, st, "good", "bad")

	resumer := &fakeResumer{failIDs: map[string]bool{"bad": true}}
	err := NewManager(st, resumer).RecoverAll(context.Background())
	if err == nil {
		t.Fatal("RecoverAll with a failing session returned nil")
	}
	if len(resumer.resumed) != 1 || resumer.resumed[0] != "good" {
		t.Errorf("resumed = %v, want only the good session", resumer.resumed)
	}

	// The failed snapshot survives for the next restart.
	if _, err := st.GetSessionSnapshot(context.Background(), "bad"); err != nil {
		t.Errorf("failed snapshot was removed: %v", err)
	}
}
