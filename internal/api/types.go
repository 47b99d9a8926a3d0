package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID   string `json:"doctor_id" validate:"required,uuid"`
	PatientID  string `json:"patient_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string `json:"time" validate:"required,datetime=15:04"`
	FirstVisit bool   `json:"first_visit"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	Status      string     `json:"status"`
	FirstVisit  bool       `json:"first_visit"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type InitPaymentRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	PatientID     string `json:"patient_id" validate:"required,uuid"`
	CustomerName  string `json:"customer_name" validate:"required"`
	CustomerPhone string `json:"customer_phone" validate:"required,min=8"`
	PaymentType   string `json:"payment_type" validate:"omitempty,oneof=deposit balance"`
}

type InitPaymentResponse struct {
	Success    bool      `json:"success"`
	PaymentID  uuid.UUID `json:"payment_id"`
	PaymentURL string    `json:"payment_url"`
}

type InitTeleconsultRequest struct {
	DoctorID      string `json:"doctor_id" validate:"required,uuid"`
	PatientID     string `json:"patient_id" validate:"required,uuid"`
	Duration      int    `json:"duration" validate:"required,gt=0"`
	Amount        int64  `json:"amount" validate:"gte=0"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
}

type InitTeleconsultResponse struct {
	Success     bool      `json:"success"`
	SessionID   uuid.UUID `json:"session_id"`
	IsFree      bool      `json:"is_free,omitempty"`
	AccessCode  string    `json:"access_code,omitempty"`
	ChannelName string    `json:"channel_name,omitempty"`
	PaymentURL  string    `json:"payment_url,omitempty"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

type SessionData struct {
	ChannelName string    `json:"channel_name"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Duration    int       `json:"duration"`
}

type VerifyCodeResponse struct {
	Valid       bool         `json:"valid"`
	Message     string       `json:"message,omitempty"`
	SessionData *SessionData `json:"session_data,omitempty"`
}

type VideoTokenRequest struct {
	Channel string `json:"channel" validate:"required"`
	Role    string `json:"role" validate:"required,oneof=host audience"`
}

type QueuePositionResponse struct {
	Position             int `json:"position"`
	TotalInQueue         int `json:"total_in_queue"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
