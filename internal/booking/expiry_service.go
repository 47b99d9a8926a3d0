package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kokosante/booking-backend/internal/notify"
	"github.com/kokosante/booking-backend/internal/realtime"
)

// ExpirePendingPayments fails payments that stayed pending past the
// configured TTL and cancels what they were meant to settle. Intended to
// be called periodically by the expiry worker; a payment the webhook
// resolves between the find and the update loses the compare-and-swap and
// is skipped.
func (s *Service) ExpirePendingPayments(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.PaymentTTL)

	stale, err := s.repo.FindExpiredPendingPayments(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find expired pending payments: %w", err)
	}

	for _, payment := range stale {
		if err := s.expireOne(ctx, payment); err != nil {
			s.log.Error().Err(err).
				Str("payment_id", payment.ID.String()).
				Msg("expire payment")
		}
	}

	return nil
}

func (s *Service) expireOne(ctx context.Context, payment Payment) error {
	var events []realtime.Event
	var fanout []notify.Notification

	err := s.repo.WithTx(ctx, func(repo Repository) error {
		updated, err := repo.UpdatePaymentStatus(ctx, payment.ID, PaymentPending, PaymentFailed, "", nil)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				// Resolved concurrently, nothing to do.
				return nil
			}
			return fmt.Errorf("fail payment: %w", err)
		}

		events = append(events, realtime.Event{
			Type: realtime.EventUpdate, Table: TablePayments, New: realtime.Row(updated),
		})

		switch {
		case payment.AppointmentID != nil:
			reason := "Acompte non payé dans le délai imparti"
			appt, err := repo.UpdateAppointmentStatus(ctx, *payment.AppointmentID, AppointmentPending, AppointmentCancelled, &reason)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("cancel appointment: %w", err)
			}
			if appt != nil {
				events = append(events, realtime.Event{
					Type: realtime.EventUpdate, Table: TableAppointments, New: realtime.Row(appt),
				})
				if patient, err := repo.GetPatientByID(ctx, appt.PatientID); err == nil {
					fanout = append(fanout, notify.New(patient.UserID, notify.TypeAppointmentCancelled,
						"Rendez-vous annulé",
						"Le paiement n'a pas été effectué à temps, le rendez-vous a été annulé.",
						map[string]any{"appointment_id": appt.ID.String()}))
				}
			}
		case payment.SessionID != nil:
			session, err := repo.UpdateSessionStatus(ctx, *payment.SessionID, SessionPending, SessionCancelled, nil)
			if err != nil && !errors.Is(err, ErrSessionNotFound) {
				return fmt.Errorf("cancel session: %w", err)
			}
			if session != nil {
				public := *session
				public.AccessCode = ""
				events = append(events, realtime.Event{
					Type: realtime.EventUpdate, Table: TableSessions, New: realtime.Row(public),
				})
				if patient, err := repo.GetPatientByID(ctx, session.PatientID); err == nil {
					fanout = append(fanout, notify.New(patient.UserID, notify.TypeAppointmentCancelled,
						"Téléconsultation annulée",
						"Le paiement n'a pas été effectué à temps, la téléconsultation a été annulée.",
						map[string]any{"session_id": session.ID.String()}))
				}
			}
		}

		if err := s.notifyUsers(ctx, repo, fanout); err != nil {
			return err
		}

		s.logEvent(ctx, repo, payment.ID, EventPaymentExpired, map[string]any{
			"reason": "worker",
		})
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		s.publishEvent(ctx, ev)
	}
	s.publishNotifications(ctx, fanout)

	return nil
}
