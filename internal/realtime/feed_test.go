package realtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestRow(t *testing.T) {
	type row struct {
		ID     uuid.UUID `json:"id"`
		UserID uuid.UUID `json:"user_id"`
		IsRead bool      `json:"is_read"`
	}
	id := uuid.New()
	userID := uuid.New()

	m := Row(row{ID: id, UserID: userID, IsRead: true})
	if m == nil {
		t.Fatalf("Row returned nil")
	}
	if m["id"] != id.String() {
		t.Errorf("id = %v", m["id"])
	}
	if m["user_id"] != userID.String() {
		t.Errorf("user_id = %v", m["user_id"])
	}
	if m["is_read"] != true {
		t.Errorf("is_read = %v", m["is_read"])
	}

	if Row(nil) != nil {
		t.Errorf("Row(nil) should be nil")
	}
	if Row(make(chan int)) != nil {
		t.Errorf("unmarshalable value should yield nil")
	}
}

func TestSubscriptionMatches(t *testing.T) {
	userID := uuid.New()
	ev := Event{
		Type:  EventInsert,
		Table: "notifications",
		New:   map[string]any{"user_id": userID.String(), "is_read": false},
	}

	tests := []struct {
		name string
		sub  subscription
		want bool
	}{
		{"table only", subscription{Table: "notifications"}, true},
		{"other table", subscription{Table: "payments"}, false},
		{"matching filter", subscription{Table: "notifications", Column: "user_id", Value: userID.String()}, true},
		{"other user", subscription{Table: "notifications", Column: "user_id", Value: uuid.NewString()}, false},
		{"missing column", subscription{Table: "notifications", Column: "doctor_id", Value: "x"}, false},
		{"non-string value", subscription{Table: "notifications", Column: "is_read", Value: "false"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sub.matches(ev); got != tc.want {
				t.Errorf("matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubscriptionMatchesDeleteUsesOldRow(t *testing.T) {
	userID := uuid.New()
	ev := Event{
		Type:  EventDelete,
		Table: "notifications",
		Old:   map[string]any{"user_id": userID.String()},
	}

	sub := subscription{Table: "notifications", Column: "user_id", Value: userID.String()}
	if !sub.matches(ev) {
		t.Errorf("delete should match on the old row")
	}
}
