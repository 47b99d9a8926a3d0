package gateway

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PersonalInfo is the canonical correlation payload we attach to a checkout
// session and recover from the webhook. The gateway treats it as opaque.
type PersonalInfo struct {
	PaymentID     string `json:"payment_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	PatientID     string `json:"patient_id,omitempty"`
}

var ErrNoCorrelation = errors.New("callback carries no correlation ids")

// ParsePersonalInfo normalizes the personal_Info field of a callback. The
// gateway is inconsistent: the field arrives as a JSON object, an
// array-wrapped object, a JSON-encoded string of either, or is absent.
func ParsePersonalInfo(raw json.RawMessage) (PersonalInfo, error) {
	var info PersonalInfo

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return info, ErrNoCorrelation
	}

	// String-encoded JSON: unwrap and recurse.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return info, ErrNoCorrelation
		}
		return ParsePersonalInfo(json.RawMessage(inner))
	}

	if trimmed[0] == '[' {
		var arr []PersonalInfo
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			return info, ErrNoCorrelation
		}
		info = arr[0]
	} else {
		if err := json.Unmarshal(raw, &info); err != nil {
			return info, ErrNoCorrelation
		}
	}

	if info.PaymentID == "" && info.AppointmentID == "" && info.SessionID == "" {
		return info, ErrNoCorrelation
	}
	return info, nil
}

// PaymentUUID parses the payment id when present.
func (p PersonalInfo) PaymentUUID() (uuid.UUID, bool) {
	return parseID(p.PaymentID)
}

func (p PersonalInfo) AppointmentUUID() (uuid.UUID, bool) {
	return parseID(p.AppointmentID)
}

func (p PersonalInfo) SessionUUID() (uuid.UUID, bool) {
	return parseID(p.SessionID)
}

func parseID(s string) (uuid.UUID, bool) {
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Outcome classifies what a callback reports about the transaction.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// Callback is the webhook body the gateway posts at least once per
// transaction outcome. Either Event or Statut carries the state.
type Callback struct {
	Event        string          `json:"event"`
	Statut       string          `json:"statut"`
	TokenPay     string          `json:"tokenPay"`
	PersonalInfo json.RawMessage `json:"personal_Info"`
	Amount       json.Number     `json:"Montant"`
}

// Outcome maps the gateway's event/statut vocabulary onto a tri-state.
// Anything unrecognized is Unknown and must be acknowledged without any
// state change so the gateway stops retrying.
func (c Callback) Outcome() Outcome {
	switch strings.ToLower(strings.TrimSpace(c.Event)) {
	case "payin.session.completed":
		return OutcomePaid
	case "payin.session.cancelled", "payin.session.failed":
		return OutcomeFailed
	}

	switch strings.ToLower(strings.TrimSpace(c.Statut)) {
	case "paid", "success":
		return OutcomePaid
	case "failure", "failed", "no paid", "cancelled":
		return OutcomeFailed
	}

	return OutcomeUnknown
}
