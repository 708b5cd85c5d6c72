package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CampusCompass/VoiceIntake/internal/flow"
	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/speech"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
	"github.com/CampusCompass/VoiceIntake/internal/whatsapp"
)

// ResumeSession reattaches a persisted session snapshot to a fresh channel
// and continues the interview at its saved question. Phone sessions get a
// new outbound call; WhatsApp sessions are re-registered on the inbound
// router.
func (s *Server) ResumeSession(ctx context.Context, snap models.SessionSnapshot) error {
	if _, live := s.sessions.get(snap.ID); live {
		return fmt.Errorf("session %s is already live", snap.ID)
	}

	switch snap.Channel {
	case ChannelPhone:
		return s.resumePhoneSession(ctx, snap)
	case ChannelWhatsApp:
		return s.resumeWhatsAppSession(ctx, snap)
	default:
		return fmt.Errorf("session %s has no resumable channel %q", snap.ID, snap.Channel)
	}
}

func (s *Server) resumePhoneSession(ctx context.Context, snap models.SessionSnapshot) error {
	if s.caller == nil || s.publicURL == "" {
		return fmt.Errorf("cannot resume phone session %s: telephony not configured", snap.ID)
	}

	channel := telephony.NewCallChannel(s.publicURL + "/twilio/gather/" + snap.ID)
	sess, err := s.resumeFlowSession(ctx, snap, channel)
	if err != nil {
		channel.Close()
		return err
	}

	entry := &sessionEntry{session: sess, call: channel}
	s.sessions.add(entry)
	if err := sess.Start(context.Background()); err != nil {
		s.sessions.remove(snap.ID)
		channel.Close()
		return fmt.Errorf("failed to start resumed session %s: %w", snap.ID, err)
	}
	go s.reapWhenDone(entry)

	callSID, err := s.caller.PlaceCall(ctx, snap.PhoneNumber, s.publicURL+"/twilio/voice/"+snap.ID)
	if err != nil {
		entry.close()
		s.sessions.remove(snap.ID)
		return fmt.Errorf("failed to call participant back for session %s: %w", snap.ID, err)
	}
	slog.Info("Server resumed phone session", "session", snap.ID, "participant", snap.ParticipantID, "index", snap.CurrentIndex, "callSID", callSID)
	return nil
}

func (s *Server) resumeWhatsAppSession(ctx context.Context, snap models.SessionSnapshot) error {
	if s.sender == nil {
		return fmt.Errorf("cannot resume WhatsApp session %s: WhatsApp not configured", snap.ID)
	}

	channel := whatsapp.NewTextChannel(s.sender, snap.PhoneNumber)
	sess, err := s.resumeFlowSession(ctx, snap, channel)
	if err != nil {
		return err
	}

	entry := &sessionEntry{session: sess, text: channel}
	s.sessions.add(entry)
	s.router.Register(channel)
	if err := sess.Start(context.Background()); err != nil {
		s.router.Unregister(snap.PhoneNumber)
		s.sessions.remove(snap.ID)
		return fmt.Errorf("failed to start resumed session %s: %w", snap.ID, err)
	}
	go s.reapWhenDone(entry)

	slog.Info("Server resumed WhatsApp session", "session", snap.ID, "participant", snap.ParticipantID, "index", snap.CurrentIndex)
	return nil
}

func (s *Server) resumeFlowSession(ctx context.Context, snap models.SessionSnapshot, channel speech.Channel) (*flow.Session, error) {
	if snap.Flow == models.FlowTypeExam {
		return flow.NewExamSession(ctx, snap.ParticipantID, snap.ExamType, channel, s.st, flow.WithResume(snap))
	}
	return flow.NewOnboardingSession(snap.ParticipantID, channel, s.st, flow.WithResume(snap))
}
