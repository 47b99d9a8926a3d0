package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type discriminates notification variants. Rendering hints (label, icon)
// live in exhaustive mappings below so a new variant only needs additions
// in this file.
type Type string

const (
	TypeAppointmentConfirmed Type = "appointment_confirmed"
	TypeAppointmentCancelled Type = "appointment_cancelled"
	TypePaymentSuccess       Type = "payment_success"
	TypeNewAppointment       Type = "new_appointment"
	TypeTeleconsultation     Type = "teleconsultation"
	TypeQueueUpdate          Type = "queue_update"
	TypeReminder             Type = "reminder"
	TypeUrgent               Type = "urgent"
	TypeSystem               Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAppointmentConfirmed, TypeAppointmentCancelled, TypePaymentSuccess,
		TypeNewAppointment, TypeTeleconsultation, TypeQueueUpdate,
		TypeReminder, TypeUrgent, TypeSystem:
		return true
	}
	return false
}

// Label returns the French category label shown above the message body.
func (t Type) Label() string {
	switch t {
	case TypeAppointmentConfirmed:
		return "Rendez-vous confirmé"
	case TypeAppointmentCancelled:
		return "Rendez-vous annulé"
	case TypePaymentSuccess:
		return "Paiement reçu"
	case TypeNewAppointment:
		return "Nouveau rendez-vous"
	case TypeTeleconsultation:
		return "Téléconsultation"
	case TypeQueueUpdate:
		return "File d'attente"
	case TypeReminder:
		return "Rappel"
	case TypeUrgent:
		return "Urgent"
	case TypeSystem:
		return "Système"
	}
	return "Notification"
}

// Icon returns the icon name used by the mobile and web clients.
func (t Type) Icon() string {
	switch t {
	case TypeAppointmentConfirmed:
		return "calendar-check"
	case TypeAppointmentCancelled:
		return "calendar-x"
	case TypePaymentSuccess:
		return "credit-card"
	case TypeNewAppointment:
		return "calendar-plus"
	case TypeTeleconsultation:
		return "video"
	case TypeQueueUpdate:
		return "users"
	case TypeReminder:
		return "bell"
	case TypeUrgent:
		return "alert-triangle"
	case TypeSystem:
		return "info"
	}
	return "bell"
}

// Notification is one user-facing message. Data carries the structured
// payload referencing the triggering appointment, payment or session.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      Type            `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an unread notification with a fresh id. The data payload is
// marshalled here so callers pass plain maps or structs.
func New(userID uuid.UUID, t Type, title, message string, data any) Notification {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	return Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      t,
		Title:     title,
		Message:   message,
		Data:      raw,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
}
