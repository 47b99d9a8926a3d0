package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kokosante/booking-backend/internal/config"
	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/notify"
	"github.com/kokosante/booking-backend/internal/realtime"
	redisclient "github.com/kokosante/booking-backend/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPaymentInitialized   = "PAYMENT_INITIALIZED"
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventPaymentExpired       = "PAYMENT_EXPIRED"
	EventSessionCreated       = "SESSION_CREATED"
	EventSessionActivated     = "SESSION_ACTIVATED"
)

const (
	TableAppointments  = "appointments"
	TablePayments      = "payments"
	TableSessions      = "teleconsultation_sessions"
	TableNotifications = "notifications"
)

var (
	ErrAppointmentNotActive    = errors.New("appointment is not active")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// PaymentGateway is what the service needs from the mobile-money gateway.
type PaymentGateway interface {
	Configured() bool
	CreatePaymentSession(ctx context.Context, req gateway.SessionRequest) (*gateway.SessionResult, error)
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	gateway   PaymentGateway
	publisher realtime.Publisher
	cfg       config.Config
	log       zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, gw PaymentGateway, pub realtime.Publisher, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		gateway:   gw,
		publisher: pub,
		cfg:       cfg,
		log:       log.With().Str("component", "booking").Logger(),
	}
}

// CreateAppointment books a slot for a patient. The appointment starts
// pending and is confirmed by the payment webhook or a manual secretary
// action.
func (s *Service) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, appt.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if appt.ClinicID == nil {
		appt.ClinicID = doctor.ClinicID
	}

	appt.ID = uuid.New()
	appt.Status = AppointmentPending

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, s.repo, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"date":       created.Date.Format("2006-01-02"),
		"time":       created.Time,
	})
	s.publishChange(ctx, realtime.EventInsert, TableAppointments, created, nil)

	return created, nil
}

// GetAppointment retrieves an appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// QueuePositionForAppointment computes the live queue rank of one booked
// appointment, FIFO by creation among same-time bookings.
func (s *Service) QueuePositionForAppointment(ctx context.Context, id uuid.UUID) (*QueuePosition, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != AppointmentPending && appt.Status != AppointmentConfirmed {
		return nil, ErrAppointmentNotActive
	}

	active, err := s.repo.ListActiveAppointments(ctx, appt.DoctorID, appt.Date)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	pos := ComputeQueuePosition(active, appt.Time, appt.CreatedAt)
	return &pos, nil
}

// EstimateQueuePosition computes the rank a new booking at targetTime
// would get. Same-time bookings do not count as ahead of a slot that is
// not booked yet.
func (s *Service) EstimateQueuePosition(ctx context.Context, doctorID uuid.UUID, date time.Time, targetTime string) (*QueuePosition, error) {
	active, err := s.repo.ListActiveAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	pos := ComputeQueuePosition(active, targetTime, time.Time{})
	return &pos, nil
}

// ListNotifications returns the newest notifications for a user.
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = notify.DefaultCacheLimit
	}
	if limit > 100 {
		limit = 100
	}
	list, err := s.repo.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationRead marks one notification read for its owner.
func (s *Service) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkNotificationRead(ctx, id, userID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	s.publishChange(ctx, realtime.EventUpdate, TableNotifications, map[string]any{
		"id":      id.String(),
		"user_id": userID.String(),
		"is_read": true,
	}, nil)
	return nil
}

// MarkAllNotificationsRead marks every notification of a user read.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.MarkAllNotificationsRead(ctx, userID); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	s.publishChange(ctx, realtime.EventUpdate, TableNotifications, map[string]any{
		"user_id":  userID.String(),
		"is_read":  true,
		"bulk_all": true,
	}, nil)
	return nil
}

func (s *Service) logEvent(ctx context.Context, repo Repository, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	id := subjectID
	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("subject_id", subjectID.String()).
			Msg("insert event log")
	}
}

// publishChange pushes a row change onto the realtime feed. Delivery is
// best effort: subscribers recompute from the store, so a lost event
// degrades freshness, not correctness.
func (s *Service) publishChange(ctx context.Context, evType realtime.EventType, table string, newRow, oldRow any) {
	s.publishEvent(ctx, realtime.Event{
		Type:  evType,
		Table: table,
		New:   realtime.Row(newRow),
		Old:   realtime.Row(oldRow),
	})
}

func (s *Service) publishEvent(ctx context.Context, ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("table", ev.Table).Msg("publish change event")
	}
}

func (s *Service) notifyUsers(ctx context.Context, repo Repository, list []notify.Notification) error {
	if len(list) == 0 {
		return nil
	}
	if err := repo.InsertNotifications(ctx, list); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *Service) publishNotifications(ctx context.Context, list []notify.Notification) {
	for _, n := range list {
		s.publishChange(ctx, realtime.EventInsert, TableNotifications, n, nil)
	}
}
