package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/realtime"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPaymentInFlight = errors.New("a pending payment already exists for this appointment")
	ErrAlreadyPaid     = errors.New("appointment is already paid")
)

const minPhoneLength = 8

const defaultProvider = "mobile_money"

type InitPaymentInput struct {
	Amount        int64       `json:"amount" validate:"required,gt=0"`
	AppointmentID uuid.UUID   `json:"appointment_id" validate:"required"`
	PatientID     uuid.UUID   `json:"patient_id" validate:"required"`
	CustomerName  string      `json:"customer_name" validate:"required"`
	CustomerPhone string      `json:"customer_phone" validate:"required,min=8"`
	Type          PaymentType `json:"payment_type" validate:"omitempty,oneof=deposit balance"`
}

type PaymentInit struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	PaymentURL string    `json:"payment_url"`
}

func (in *InitPaymentInput) validate() error {
	switch {
	case in.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case in.AppointmentID == uuid.Nil:
		return fmt.Errorf("%w: appointment_id is required", ErrInvalidRequest)
	case in.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	case strings.TrimSpace(in.CustomerName) == "":
		return fmt.Errorf("%w: customer_name is required", ErrInvalidRequest)
	case len(strings.TrimSpace(in.CustomerPhone)) < minPhoneLength:
		return fmt.Errorf("%w: customer_phone is too short", ErrInvalidRequest)
	}
	return nil
}

// InitPayment creates a pending payment for an appointment and returns the
// gateway checkout URL. Validation and configuration failures reject before
// any row is written. A per-appointment lock plus the open-payment check
// keep a double submit from creating two competing pending payments.
func (s *Service) InitPayment(ctx context.Context, in InitPaymentInput) (*PaymentInit, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if !s.gateway.Configured() {
		return nil, gateway.ErrNotConfigured
	}

	appt, err := s.repo.GetAppointmentByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == AppointmentCancelled {
		return nil, fmt.Errorf("%w: appointment is cancelled", ErrInvalidRequest)
	}

	if in.Type == "" {
		in.Type = PaymentDeposit
	}

	var result *PaymentInit

	lockKey := fmt.Sprintf("payment:appointment:%s", in.AppointmentID)
	err = s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		existing, err := s.repo.GetOpenPaymentForAppointment(lockCtx, in.AppointmentID)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return fmt.Errorf("check open payment: %w", err)
		}
		if existing != nil {
			if existing.Status == PaymentSuccess {
				return ErrAlreadyPaid
			}
			return ErrPaymentInFlight
		}

		apptID := in.AppointmentID
		id := uuid.New()
		payment, err := s.repo.CreatePayment(lockCtx, Payment{
			ID:            id,
			AppointmentID: &apptID,
			PatientID:     in.PatientID,
			Amount:        in.Amount,
			Status:        PaymentPending,
			Type:          in.Type,
			Provider:      defaultProvider,
			// Placeholder until the webhook records the gateway token.
			TransactionRef: id.String(),
		})
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		session, err := s.gateway.CreatePaymentSession(lockCtx, gateway.SessionRequest{
			Amount:        in.Amount,
			Article:       "consultation",
			CustomerName:  in.CustomerName,
			CustomerPhone: in.CustomerPhone,
			PersonalInfo: gateway.PersonalInfo{
				PaymentID:     payment.ID.String(),
				AppointmentID: in.AppointmentID.String(),
				PatientID:     in.PatientID.String(),
			},
		})
		if err != nil {
			s.failPaymentAfterGatewayError(lockCtx, payment.ID)
			return err
		}

		s.logEvent(lockCtx, s.repo, payment.ID, EventPaymentInitialized, map[string]any{
			"appointment_id": in.AppointmentID.String(),
			"amount":         in.Amount,
			"payment_type":   string(in.Type),
		})
		s.publishChange(lockCtx, realtime.EventInsert, TablePayments, payment, nil)

		result = &PaymentInit{
			PaymentID:  payment.ID,
			PaymentURL: session.PaymentURL,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// failPaymentAfterGatewayError closes a payment whose checkout session
// never opened. Best effort: a leftover pending row is swept by the
// expiry worker anyway.
func (s *Service) failPaymentAfterGatewayError(ctx context.Context, paymentID uuid.UUID) {
	if _, err := s.repo.UpdatePaymentStatus(ctx, paymentID, PaymentPending, PaymentFailed, "", nil); err != nil {
		s.log.Warn().Err(err).
			Str("payment_id", paymentID.String()).
			Msg("could not fail payment after gateway error")
	}
}

type InitTeleconsultInput struct {
	DoctorID        uuid.UUID `json:"doctor_id" validate:"required"`
	PatientID       uuid.UUID `json:"patient_id" validate:"required"`
	DurationMinutes int       `json:"duration" validate:"required,gt=0"`
	Amount          int64     `json:"amount" validate:"gte=0"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
}

type TeleconsultInit struct {
	SessionID   uuid.UUID `json:"session_id"`
	IsFree      bool      `json:"is_free"`
	AccessCode  string    `json:"access_code,omitempty"`
	ChannelName string    `json:"channel_name,omitempty"`
	PaymentID   uuid.UUID `json:"payment_id,omitempty"`
	PaymentURL  string    `json:"payment_url,omitempty"`
}

// InitTeleconsultation creates a session and, unless the doctor consults
// for free, a pending payment plus checkout URL. A free session is created
// directly in paid status and its access code is disclosed immediately.
// For a paid session the code is withheld until the webhook confirms, so
// it never rides in the redirect URL.
func (s *Service) InitTeleconsultation(ctx context.Context, in InitTeleconsultInput) (*TeleconsultInit, error) {
	switch {
	case in.DoctorID == uuid.Nil:
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidRequest)
	case in.PatientID == uuid.Nil:
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	case in.DurationMinutes <= 0:
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}

	if _, err := s.repo.GetDoctorByID(ctx, in.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	free := in.Amount <= 0
	if !free {
		if strings.TrimSpace(in.CustomerName) == "" || len(strings.TrimSpace(in.CustomerPhone)) < minPhoneLength {
			return nil, fmt.Errorf("%w: customer identity is required for a paid session", ErrInvalidRequest)
		}
		if !s.gateway.Configured() {
			return nil, gateway.ErrNotConfigured
		}
	}

	code, err := generateAccessCode()
	if err != nil {
		return nil, fmt.Errorf("generate access code: %w", err)
	}

	session := TeleconsultSession{
		ID:              uuid.New(),
		DoctorID:        in.DoctorID,
		PatientID:       in.PatientID,
		ChannelName:     newChannelName(),
		AccessCode:      code,
		DurationMinutes: in.DurationMinutes,
		Amount:          in.Amount,
		Status:          SessionPending,
	}
	if free {
		session.Status = SessionPaid
	}

	created, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logEvent(ctx, s.repo, created.ID, EventSessionCreated, map[string]any{
		"doctor_id": in.DoctorID.String(),
		"amount":    in.Amount,
		"free":      free,
	})
	s.publishChange(ctx, realtime.EventInsert, TableSessions, created, nil)

	if free {
		return &TeleconsultInit{
			SessionID:   created.ID,
			IsFree:      true,
			AccessCode:  created.AccessCode,
			ChannelName: created.ChannelName,
		}, nil
	}

	sessionID := created.ID
	paymentID := uuid.New()
	payment, err := s.repo.CreatePayment(ctx, Payment{
		ID:             paymentID,
		SessionID:      &sessionID,
		PatientID:      in.PatientID,
		Amount:         in.Amount,
		Status:         PaymentPending,
		Type:           PaymentBalance,
		Provider:       defaultProvider,
		TransactionRef: paymentID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	checkout, err := s.gateway.CreatePaymentSession(ctx, gateway.SessionRequest{
		Amount:        in.Amount,
		Article:       "teleconsultation",
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		PersonalInfo: gateway.PersonalInfo{
			PaymentID: payment.ID.String(),
			SessionID: created.ID.String(),
			PatientID: in.PatientID.String(),
		},
	})
	if err != nil {
		s.failPaymentAfterGatewayError(ctx, payment.ID)
		if _, updErr := s.repo.UpdateSessionStatus(ctx, created.ID, SessionPending, SessionCancelled, nil); updErr != nil {
			s.log.Warn().Err(updErr).
				Str("session_id", created.ID.String()).
				Msg("could not cancel session after gateway error")
		}
		return nil, err
	}

	s.logEvent(ctx, s.repo, payment.ID, EventPaymentInitialized, map[string]any{
		"session_id": created.ID.String(),
		"amount":     in.Amount,
	})
	s.publishChange(ctx, realtime.EventInsert, TablePayments, payment, nil)

	return &TeleconsultInit{
		SessionID:  created.ID,
		PaymentID:  payment.ID,
		PaymentURL: checkout.PaymentURL,
	}, nil
}

// accessCodeAlphabet leaves out 0/O, 1/I/L so the code survives being read
// over the phone.
const accessCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const accessCodeLength = 6

func generateAccessCode() (string, error) {
	var b strings.Builder
	for i := 0; i < accessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(accessCodeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func newChannelName() string {
	return fmt.Sprintf("consult_%s_%d", strings.ReplaceAll(uuid.NewString(), "-", "")[:12], time.Now().Unix())
}
