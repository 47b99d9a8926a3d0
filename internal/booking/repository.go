package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/notify"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrSessionNotFound     = errors.New("session not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Active secretaries of a clinic, as notification recipients.
	ListActiveSecretaryUserIDs(ctx context.Context, clinicID uuid.UUID) ([]uuid.UUID, error)

	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Pending and confirmed appointments for one doctor and date, ordered
	// by time then creation.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)

	CreatePayment(ctx context.Context, p Payment) (*Payment, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByTransactionRef(ctx context.Context, ref string) (*Payment, error)
	// The non-failed payment currently attached to an appointment, if any.
	GetOpenPaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus, transactionRef string, paidAt *time.Time) (*Payment, error)

	// Expiry worker
	FindExpiredPendingPayments(ctx context.Context, cutoff time.Time) ([]Payment, error)

	CreateSession(ctx context.Context, s TeleconsultSession) (*TeleconsultSession, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (*TeleconsultSession, error)
	GetSessionByAccessCode(ctx context.Context, code string) (*TeleconsultSession, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, startedAt *time.Time) (*TeleconsultSession, error)

	InsertNotifications(ctx context.Context, list []notify.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]notify.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn against a repository bound to one transaction,
	// committing when fn returns nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
