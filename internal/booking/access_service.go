package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/realtime"
)

var (
	// ErrCodeInvalid covers both unknown and terminally-ended codes so a
	// caller probing codes cannot tell them apart.
	ErrCodeInvalid         = errors.New("code invalide ou expiré")
	ErrPaymentNotConfirmed = errors.New("le paiement n'est pas encore confirmé")
)

// AccessGrant is what a verified caller needs to join the video channel.
// It never carries the access code back.
type AccessGrant struct {
	ChannelName     string    `json:"channel_name"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	DurationMinutes int       `json:"duration"`
}

// VerifyAccessCode validates a teleconsultation access code and moves the
// session paid -> active on first entry, recording started_at. Re-entry on
// an active session is accepted so a dropped connection can rejoin.
func (s *Service) VerifyAccessCode(ctx context.Context, code string) (*AccessGrant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != accessCodeLength {
		return nil, ErrCodeInvalid
	}

	session, err := s.repo.GetSessionByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	switch session.Status {
	case SessionPaid:
		now := time.Now()
		activated, err := s.repo.UpdateSessionStatus(ctx, session.ID, SessionPaid, SessionActive, &now)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Lost the race to a concurrent entry; the session is
				// active now, which is fine.
				activated = session
			} else {
				return nil, fmt.Errorf("activate session: %w", err)
			}
		} else {
			s.logEvent(ctx, s.repo, session.ID, EventSessionActivated, map[string]any{})
			public := *activated
			public.AccessCode = ""
			s.publishChange(ctx, realtime.EventUpdate, TableSessions, public, nil)
		}
		session = activated

	case SessionActive:
		// Idempotent re-entry.

	case SessionPending:
		return nil, ErrPaymentNotConfirmed

	default: // completed, cancelled
		return nil, ErrCodeInvalid
	}

	return &AccessGrant{
		ChannelName:     session.ChannelName,
		DoctorID:        session.DoctorID,
		DurationMinutes: session.DurationMinutes,
	}, nil
}
