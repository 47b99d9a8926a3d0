package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentType string

const (
	PaymentDeposit PaymentType = "deposit"
	PaymentBalance PaymentType = "balance"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionPaid      SessionStatus = "paid"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Appointment is one booked doctor/patient slot. Time is the time of day
// as "HH:MM"; lexicographic order on it is chronological order, which the
// queue computation relies on.
type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	DoctorID           uuid.UUID         `json:"doctor_id"`
	PatientID          uuid.UUID         `json:"patient_id"`
	ClinicID           *uuid.UUID        `json:"clinic_id,omitempty"`
	Date               time.Time         `json:"date"`
	Time               string            `json:"time"`
	Status             AppointmentStatus `json:"status"`
	FirstVisit         bool              `json:"first_visit"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	ConfirmedAt        *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Payment settles either an appointment deposit/balance or a
// teleconsultation session; exactly one of AppointmentID and SessionID is
// set. TransactionRef starts as the payment's own id and is replaced by
// the gateway token when the webhook confirms.
type Payment struct {
	ID             uuid.UUID     `json:"id"`
	AppointmentID  *uuid.UUID    `json:"appointment_id,omitempty"`
	SessionID      *uuid.UUID    `json:"session_id,omitempty"`
	PatientID      uuid.UUID     `json:"patient_id"`
	Amount         int64         `json:"amount"`
	Status         PaymentStatus `json:"status"`
	Type           PaymentType   `json:"payment_type"`
	Provider       string        `json:"provider"`
	TransactionRef string        `json:"transaction_ref"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TeleconsultSession is one scheduled remote video encounter. The access
// code gates entry and is disclosed to the patient only once the session
// is paid.
type TeleconsultSession struct {
	ID              uuid.UUID     `json:"id"`
	DoctorID        uuid.UUID     `json:"doctor_id"`
	PatientID       uuid.UUID     `json:"patient_id"`
	ChannelName     string        `json:"channel_name"`
	AccessCode      string        `json:"access_code"`
	DurationMinutes int           `json:"duration_minutes"`
	Amount          int64         `json:"amount"`
	Status          SessionStatus `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type Doctor struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Name      string     `json:"name"`
	Specialty *string    `json:"specialty,omitempty"`
	ClinicID  *uuid.UUID `json:"clinic_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueuePosition is derived, never persisted: the ordinal rank of an
// appointment among active appointments for the same doctor and date.
type QueuePosition struct {
	Position             int `json:"position"`
	TotalInQueue         int `json:"total_in_queue"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
