package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParsePersonalInfo(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"payment_id":"` + id.String() + `"}`,
			want: id.String(),
		},
		{
			name: "array wrapped",
			raw:  `[{"payment_id":"` + id.String() + `"}]`,
			want: id.String(),
		},
		{
			name: "string encoded object",
			raw:  `"{\"payment_id\":\"` + id.String() + `\"}"`,
			want: id.String(),
		},
		{
			name: "string encoded array",
			raw:  `"[{\"payment_id\":\"` + id.String() + `\"}]"`,
			want: id.String(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := ParsePersonalInfo(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("ParsePersonalInfo: %v", err)
			}
			if info.PaymentID != tc.want {
				t.Errorf("payment id = %q, want %q", info.PaymentID, tc.want)
			}
			got, ok := info.PaymentUUID()
			if !ok || got != id {
				t.Errorf("PaymentUUID() = %v, %v", got, ok)
			}
		})
	}
}

func TestParsePersonalInfoNoCorrelation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"absent", ""},
		{"null", "null"},
		{"empty object", "{}"},
		{"empty array", "[]"},
		{"only patient id", `{"patient_id":"` + uuid.NewString() + `"}`},
		{"garbage", `not json`},
		{"string garbage", `"not json either"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePersonalInfo(json.RawMessage(tc.raw)); !errors.Is(err, ErrNoCorrelation) {
				t.Fatalf("err = %v, want ErrNoCorrelation", err)
			}
		})
	}
}

func TestPersonalInfoBadUUID(t *testing.T) {
	info := PersonalInfo{PaymentID: "not-a-uuid"}
	if _, ok := info.PaymentUUID(); ok {
		t.Errorf("PaymentUUID accepted %q", info.PaymentID)
	}
}

func TestCallbackOutcome(t *testing.T) {
	tests := []struct {
		name string
		cb   Callback
		want Outcome
	}{
		{"event completed", Callback{Event: "payin.session.completed"}, OutcomePaid},
		{"event completed upper", Callback{Event: "PAYIN.SESSION.COMPLETED"}, OutcomePaid},
		{"event cancelled", Callback{Event: "payin.session.cancelled"}, OutcomeFailed},
		{"event failed", Callback{Event: "payin.session.failed"}, OutcomeFailed},
		{"statut paid", Callback{Statut: "paid"}, OutcomePaid},
		{"statut success", Callback{Statut: "Success"}, OutcomePaid},
		{"statut no paid", Callback{Statut: "no paid"}, OutcomeFailed},
		{"statut failure", Callback{Statut: "failure"}, OutcomeFailed},
		{"event wins over statut", Callback{Event: "payin.session.completed", Statut: "failure"}, OutcomePaid},
		{"nothing recognized", Callback{Event: "payin.session.opened", Statut: "en cours"}, OutcomeUnknown},
		{"empty", Callback{}, OutcomeUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cb.Outcome(); got != tc.want {
				t.Errorf("Outcome() = %v, want %v", got, tc.want)
			}
		})
	}
}
