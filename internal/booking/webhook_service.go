package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/notify"
	"github.com/kokosante/booking-backend/internal/realtime"
)

// CallbackResult reports what a webhook invocation did. Applied is false
// for idempotent replays and unrecognized events, which are acknowledged
// without mutation.
type CallbackResult struct {
	Applied   bool
	PaymentID uuid.UUID
	Outcome   gateway.Outcome
}

// errAlreadyTerminal signals that a compare-and-swap lost to an earlier
// delivery of the same callback. Treated as a successful no-op.
var errAlreadyTerminal = errors.New("payment already in a terminal state")

// HandleGatewayCallback reconciles one gateway callback with application
// state. The gateway delivers at least once, so every path is idempotent:
// a payment moves pending -> success or pending -> failed exactly once and
// any further callback is an acknowledged no-op.
func (s *Service) HandleGatewayCallback(ctx context.Context, cb gateway.Callback) (*CallbackResult, error) {
	outcome := cb.Outcome()
	if outcome == gateway.OutcomeUnknown {
		s.log.Info().
			Str("event", cb.Event).
			Str("statut", cb.Statut).
			Msg("webhook event not a payment outcome, acknowledging without action")
		return &CallbackResult{Applied: false, Outcome: outcome}, nil
	}

	payment, err := s.resolvePayment(ctx, cb)
	if err != nil {
		return nil, err
	}

	res := &CallbackResult{PaymentID: payment.ID, Outcome: outcome}

	if payment.Status != PaymentPending {
		if (payment.Status == PaymentSuccess) != (outcome == gateway.OutcomePaid) {
			s.log.Warn().
				Str("payment_id", payment.ID.String()).
				Str("status", string(payment.Status)).
				Str("event", cb.Event).
				Msg("webhook outcome contradicts terminal payment status, ignoring")
		}
		return res, nil
	}

	var published []realtime.Event
	var fanout []notify.Notification

	txErr := s.repo.WithTx(ctx, func(txRepo Repository) error {
		var err error
		if outcome == gateway.OutcomePaid {
			published, fanout, err = s.applyPaid(ctx, txRepo, payment, cb)
		} else {
			published, fanout, err = s.applyFailed(ctx, txRepo, payment)
		}
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, errAlreadyTerminal) {
			return res, nil
		}
		return nil, txErr
	}

	res.Applied = true

	for _, ev := range published {
		s.publishEvent(ctx, ev)
	}
	s.publishNotifications(ctx, fanout)

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("outcome", outcomeName(outcome)).
		Int("notifications", len(fanout)).
		Msg("webhook reconciled")

	return res, nil
}

// resolvePayment recovers the payment a callback refers to: first by the
// payment id inside personal_Info, then by the gateway token as
// transaction reference.
func (s *Service) resolvePayment(ctx context.Context, cb gateway.Callback) (*Payment, error) {
	info, infoErr := gateway.ParsePersonalInfo(cb.PersonalInfo)
	if infoErr == nil {
		if id, ok := info.PaymentUUID(); ok {
			p, err := s.repo.GetPaymentByID(ctx, id)
			if err == nil {
				return p, nil
			}
			if !errors.Is(err, ErrPaymentNotFound) {
				return nil, fmt.Errorf("load payment: %w", err)
			}
		}
	}

	if cb.TokenPay != "" {
		p, err := s.repo.GetPaymentByTransactionRef(ctx, cb.TokenPay)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("load payment by token: %w", err)
		}
	}

	return nil, ErrPaymentNotFound
}

func (s *Service) applyPaid(ctx context.Context, repo Repository, payment *Payment, cb gateway.Callback) ([]realtime.Event, []notify.Notification, error) {
	now := time.Now()
	ref := cb.TokenPay
	if ref == "" {
		ref = payment.TransactionRef
	}

	updated, err := repo.UpdatePaymentStatus(ctx, payment.ID, PaymentPending, PaymentSuccess, ref, &now)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, nil, errAlreadyTerminal
		}
		return nil, nil, fmt.Errorf("confirm payment: %w", err)
	}

	events := []realtime.Event{
		{Type: realtime.EventUpdate, Table: TablePayments, New: realtime.Row(updated), Old: realtime.Row(payment)},
	}
	var fanout []notify.Notification

	switch {
	case payment.AppointmentID != nil:
		notifications, ev, err := s.confirmAppointment(ctx, repo, *payment.AppointmentID)
		if err != nil {
			return nil, nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		fanout = notifications
	case payment.SessionID != nil:
		notifications, ev, err := s.markSessionPaid(ctx, repo, *payment.SessionID)
		if err != nil {
			return nil, nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		fanout = notifications
	}

	if err := s.notifyUsers(ctx, repo, fanout); err != nil {
		return nil, nil, err
	}

	s.logEvent(ctx, repo, payment.ID, EventPaymentConfirmed, map[string]any{
		"transaction_ref": ref,
		"amount":          payment.Amount,
	})

	return events, fanout, nil
}

func (s *Service) confirmAppointment(ctx context.Context, repo Repository, appointmentID uuid.UUID) ([]notify.Notification, *realtime.Event, error) {
	appt, err := repo.UpdateAppointmentStatus(ctx, appointmentID, AppointmentPending, AppointmentConfirmed, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Already confirmed by an earlier delivery or a secretary.
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("confirm appointment: %w", err)
	}

	fanout, err := s.appointmentFanout(ctx, repo, appt)
	if err != nil {
		return nil, nil, err
	}

	ev := realtime.Event{Type: realtime.EventUpdate, Table: TableAppointments, New: realtime.Row(appt)}
	return fanout, &ev, nil
}

// appointmentFanout builds the notification rows for a confirmed
// appointment: the patient, the doctor, and every active secretary of the
// doctor's clinic.
func (s *Service) appointmentFanout(ctx context.Context, repo Repository, appt *Appointment) ([]notify.Notification, error) {
	doctor, err := repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	data := map[string]any{"appointment_id": appt.ID.String()}
	when := fmt.Sprintf("%s à %s", appt.Date.Format("02/01/2006"), appt.Time)

	fanout := []notify.Notification{
		notify.New(patient.UserID, notify.TypeAppointmentConfirmed,
			"Rendez-vous confirmé",
			fmt.Sprintf("Votre rendez-vous avec Dr %s le %s est confirmé.", doctor.Name, when),
			data),
		notify.New(doctor.UserID, notify.TypeNewAppointment,
			"Nouveau rendez-vous",
			fmt.Sprintf("Rendez-vous confirmé avec %s le %s.", patient.Name, when),
			data),
	}

	if appt.ClinicID != nil {
		secretaries, err := repo.ListActiveSecretaryUserIDs(ctx, *appt.ClinicID)
		if err != nil {
			return nil, fmt.Errorf("list secretaries: %w", err)
		}
		for _, userID := range secretaries {
			fanout = append(fanout, notify.New(userID, notify.TypeNewAppointment,
				"Nouveau rendez-vous",
				fmt.Sprintf("Rendez-vous confirmé pour Dr %s avec %s le %s.", doctor.Name, patient.Name, when),
				data))
		}
	}

	return fanout, nil
}

func (s *Service) markSessionPaid(ctx context.Context, repo Repository, sessionID uuid.UUID) ([]notify.Notification, *realtime.Event, error) {
	session, err := repo.UpdateSessionStatus(ctx, sessionID, SessionPending, SessionPaid, nil)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("mark session paid: %w", err)
	}

	doctor, err := repo.GetDoctorByID(ctx, session.DoctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := repo.GetPatientByID(ctx, session.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	// The access code is disclosed here, after payment, and only to the
	// patient.
	fanout := []notify.Notification{
		notify.New(patient.UserID, notify.TypeTeleconsultation,
			"Téléconsultation confirmée",
			fmt.Sprintf("Votre téléconsultation avec Dr %s est payée. Code d'accès : %s", doctor.Name, session.AccessCode),
			map[string]any{"session_id": session.ID.String(), "access_code": session.AccessCode}),
		notify.New(doctor.UserID, notify.TypeTeleconsultation,
			"Téléconsultation payée",
			fmt.Sprintf("La téléconsultation avec %s est payée.", patient.Name),
			map[string]any{"session_id": session.ID.String()}),
	}

	// Broadcast the session row without the access code.
	public := *session
	public.AccessCode = ""
	ev := realtime.Event{Type: realtime.EventUpdate, Table: TableSessions, New: realtime.Row(public)}
	return fanout, &ev, nil
}

func (s *Service) applyFailed(ctx context.Context, repo Repository, payment *Payment) ([]realtime.Event, []notify.Notification, error) {
	updated, err := repo.UpdatePaymentStatus(ctx, payment.ID, PaymentPending, PaymentFailed, "", nil)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, nil, errAlreadyTerminal
		}
		return nil, nil, fmt.Errorf("fail payment: %w", err)
	}

	events := []realtime.Event{
		{Type: realtime.EventUpdate, Table: TablePayments, New: realtime.Row(updated), Old: realtime.Row(payment)},
	}
	var fanout []notify.Notification

	switch {
	case payment.AppointmentID != nil:
		reason := "Paiement échoué ou annulé"
		appt, err := repo.UpdateAppointmentStatus(ctx, *payment.AppointmentID, AppointmentPending, AppointmentCancelled, &reason)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, fmt.Errorf("cancel appointment: %w", err)
		}
		if appt != nil {
			events = append(events, realtime.Event{Type: realtime.EventUpdate, Table: TableAppointments, New: realtime.Row(appt)})
			if patient, err := repo.GetPatientByID(ctx, appt.PatientID); err == nil {
				fanout = append(fanout, notify.New(patient.UserID, notify.TypeAppointmentCancelled,
					"Rendez-vous annulé",
					"Votre paiement n'a pas abouti, le rendez-vous a été annulé.",
					map[string]any{"appointment_id": appt.ID.String()}))
			}
		}
	case payment.SessionID != nil:
		session, err := repo.UpdateSessionStatus(ctx, *payment.SessionID, SessionPending, SessionCancelled, nil)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, nil, fmt.Errorf("cancel session: %w", err)
		}
		if session != nil {
			public := *session
			public.AccessCode = ""
			events = append(events, realtime.Event{Type: realtime.EventUpdate, Table: TableSessions, New: realtime.Row(public)})
			if patient, err := repo.GetPatientByID(ctx, session.PatientID); err == nil {
				fanout = append(fanout, notify.New(patient.UserID, notify.TypeAppointmentCancelled,
					"Téléconsultation annulée",
					"Votre paiement n'a pas abouti, la téléconsultation a été annulée.",
					map[string]any{"session_id": session.ID.String()}))
			}
		}
	}

	if err := s.notifyUsers(ctx, repo, fanout); err != nil {
		return nil, nil, err
	}

	s.logEvent(ctx, repo, payment.ID, EventPaymentFailed, map[string]any{
		"amount": payment.Amount,
	})

	return events, fanout, nil
}

func outcomeName(o gateway.Outcome) string {
	switch o {
	case gateway.OutcomePaid:
		return "paid"
	case gateway.OutcomeFailed:
		return "failed"
	}
	return "unknown"
}
