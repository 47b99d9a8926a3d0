package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/notify"
)

func paidCallback(paymentID uuid.UUID, token string) gateway.Callback {
	info, _ := json.Marshal([]gateway.PersonalInfo{{PaymentID: paymentID.String()}})
	return gateway.Callback{
		Event:        "payin.session.completed",
		TokenPay:     token,
		PersonalInfo: info,
	}
}

func failedCallback(paymentID uuid.UUID) gateway.Callback {
	info, _ := json.Marshal([]gateway.PersonalInfo{{PaymentID: paymentID.String()}})
	return gateway.Callback{
		Event:        "payin.session.cancelled",
		PersonalInfo: info,
	}
}

func TestWebhookConfirmsAppointment(t *testing.T) {
	svc, repo, _, pub := newTestService(t)
	clinicID := uuid.New()
	doctor := repo.addDoctor(&clinicID)
	patient := repo.addPatient()
	secretaries := []uuid.UUID{uuid.New(), uuid.New()}
	repo.secretaries[clinicID] = secretaries

	appt, err := svc.CreateAppointment(context.Background(), Appointment{
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Date:      date(2026, time.September, 1),
		Time:      "09:00",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	init, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init payment: %v", err)
	}

	res, err := svc.HandleGatewayCallback(context.Background(), paidCallback(init.PaymentID, "tok_gateway"))
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !res.Applied {
		t.Fatalf("callback not applied")
	}

	payment, _ := repo.GetPaymentByID(context.Background(), init.PaymentID)
	if payment.Status != PaymentSuccess {
		t.Errorf("payment status = %s, want %s", payment.Status, PaymentSuccess)
	}
	if payment.TransactionRef != "tok_gateway" {
		t.Errorf("transaction ref = %q, want the gateway token", payment.TransactionRef)
	}
	if payment.PaidAt == nil {
		t.Errorf("paid_at not recorded")
	}

	got, _ := repo.GetAppointmentByID(context.Background(), appt.ID)
	if got.Status != AppointmentConfirmed {
		t.Errorf("appointment status = %s, want %s", got.Status, AppointmentConfirmed)
	}
	if got.ConfirmedAt == nil {
		t.Errorf("confirmed_at not recorded")
	}

	// Fanout: patient, doctor and both active secretaries, one row each,
	// all carrying the appointment id.
	recipients := append([]uuid.UUID{patient.UserID, doctor.UserID}, secretaries...)
	for _, userID := range recipients {
		notes := repo.notificationsFor(userID)
		if len(notes) != 1 {
			t.Errorf("user %s got %d notifications, want 1", userID, len(notes))
			continue
		}
		var data struct {
			AppointmentID string `json:"appointment_id"`
		}
		if err := json.Unmarshal(notes[0].Data, &data); err != nil || data.AppointmentID != appt.ID.String() {
			t.Errorf("notification payload = %s", notes[0].Data)
		}
	}
	if len(repo.notifications) != len(recipients) {
		t.Errorf("%d notification rows, want %d", len(repo.notifications), len(recipients))
	}

	if events := pub.forTable(TablePayments); len(events) < 2 {
		t.Errorf("expected payment insert and update events, got %d", len(events))
	}
	if events := pub.forTable(TableNotifications); len(events) != len(recipients) {
		t.Errorf("expected %d notification events, got %d", len(recipients), len(events))
	}
}

func TestWebhookIdempotentReplay(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	init, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init payment: %v", err)
	}

	cb := paidCallback(init.PaymentID, "tok_gateway")
	first, err := svc.HandleGatewayCallback(context.Background(), cb)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first.Applied {
		t.Fatalf("first delivery not applied")
	}

	before := len(repo.notificationsFor(patient.UserID))

	second, err := svc.HandleGatewayCallback(context.Background(), cb)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Applied {
		t.Errorf("replay must be a no-op")
	}
	if after := len(repo.notificationsFor(patient.UserID)); after != before {
		t.Errorf("replay produced %d extra notifications", after-before)
	}

	payment, _ := repo.GetPaymentByID(context.Background(), init.PaymentID)
	if payment.Status != PaymentSuccess {
		t.Errorf("replay moved payment to %s", payment.Status)
	}
}

func TestWebhookFailureCancelsAppointment(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	init, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init payment: %v", err)
	}

	res, err := svc.HandleGatewayCallback(context.Background(), failedCallback(init.PaymentID))
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !res.Applied {
		t.Fatalf("callback not applied")
	}

	payment, _ := repo.GetPaymentByID(context.Background(), init.PaymentID)
	if payment.Status != PaymentFailed {
		t.Errorf("payment status = %s, want %s", payment.Status, PaymentFailed)
	}

	got, _ := repo.GetAppointmentByID(context.Background(), appt.ID)
	if got.Status != AppointmentCancelled {
		t.Errorf("appointment status = %s, want %s", got.Status, AppointmentCancelled)
	}
	if got.CancellationReason == nil {
		t.Errorf("expected a cancellation reason")
	}

	if n := repo.notificationsFor(patient.UserID); len(n) != 1 || n[0].Type != notify.TypeAppointmentCancelled {
		t.Errorf("patient notifications = %+v", n)
	}
}

func TestWebhookFailureAfterSuccessIgnored(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	init, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init payment: %v", err)
	}
	if _, err := svc.HandleGatewayCallback(context.Background(), paidCallback(init.PaymentID, "tok")); err != nil {
		t.Fatalf("paid callback: %v", err)
	}

	// A contradictory late failure must not roll anything back.
	res, err := svc.HandleGatewayCallback(context.Background(), failedCallback(init.PaymentID))
	if err != nil {
		t.Fatalf("late failure callback: %v", err)
	}
	if res.Applied {
		t.Errorf("late failure must be a no-op")
	}

	payment, _ := repo.GetPaymentByID(context.Background(), init.PaymentID)
	if payment.Status != PaymentSuccess {
		t.Errorf("payment status = %s, want %s", payment.Status, PaymentSuccess)
	}
	got, _ := repo.GetAppointmentByID(context.Background(), appt.ID)
	if got.Status != AppointmentConfirmed {
		t.Errorf("appointment status = %s, want %s", got.Status, AppointmentConfirmed)
	}
}

func TestWebhookUnknownEvent(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	res, err := svc.HandleGatewayCallback(context.Background(), gateway.Callback{
		Event: "payin.session.opened",
	})
	if err != nil {
		t.Fatalf("unknown event must be acknowledged, got %v", err)
	}
	if res.Applied {
		t.Errorf("unknown event must not mutate state")
	}
}

func TestWebhookUnknownPayment(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.HandleGatewayCallback(context.Background(), paidCallback(uuid.New(), "tok_nowhere"))
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestWebhookResolvesByToken(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	init, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init payment: %v", err)
	}

	// No personal_Info at all: the transaction ref is the fallback. The
	// pending payment still carries its own id as ref.
	res, err := svc.HandleGatewayCallback(context.Background(), gateway.Callback{
		Event:    "payin.session.completed",
		TokenPay: init.PaymentID.String(),
	})
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !res.Applied || res.PaymentID != init.PaymentID {
		t.Errorf("payment not resolved by token: %+v", res)
	}
}

func TestWebhookSessionPaidDisclosesCode(t *testing.T) {
	svc, repo, _, pub := newTestService(t)
	doctor := repo.addDoctor(nil)
	patient := repo.addPatient()

	init, err := svc.InitTeleconsultation(context.Background(), InitTeleconsultInput{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		DurationMinutes: 30,
		Amount:          15000,
		CustomerName:    "Aminata Traoré",
		CustomerPhone:   "70123456",
	})
	if err != nil {
		t.Fatalf("init teleconsultation: %v", err)
	}

	res, err := svc.HandleGatewayCallback(context.Background(), paidCallback(init.PaymentID, "tok_tc"))
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !res.Applied {
		t.Fatalf("callback not applied")
	}

	session, _ := repo.GetSessionByID(context.Background(), init.SessionID)
	if session.Status != SessionPaid {
		t.Errorf("session status = %s, want %s", session.Status, SessionPaid)
	}

	// The patient notification carries the code, the doctor's does not.
	patientNotes := repo.notificationsFor(patient.UserID)
	if len(patientNotes) != 1 || !strings.Contains(patientNotes[0].Message, session.AccessCode) {
		t.Errorf("patient notification should carry the access code: %+v", patientNotes)
	}
	doctorNotes := repo.notificationsFor(doctor.UserID)
	if len(doctorNotes) != 1 || strings.Contains(doctorNotes[0].Message, session.AccessCode) {
		t.Errorf("doctor notification must not carry the access code: %+v", doctorNotes)
	}

	// The broadcast session row never carries the code either.
	for _, ev := range pub.forTable(TableSessions) {
		if code, ok := ev.New["access_code"].(string); ok && code != "" {
			t.Errorf("access code leaked on the change feed: %v", ev.New)
		}
	}
}

func TestWebhookStatutVocabulary(t *testing.T) {
	tests := []struct {
		statut string
		want   gateway.Outcome
	}{
		{"paid", gateway.OutcomePaid},
		{"success", gateway.OutcomePaid},
		{"failure", gateway.OutcomeFailed},
		{"no paid", gateway.OutcomeFailed},
		{"cancelled", gateway.OutcomeFailed},
		{"en cours", gateway.OutcomeUnknown},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("statut %q", tc.statut), func(t *testing.T) {
			cb := gateway.Callback{Statut: tc.statut}
			if got := cb.Outcome(); got != tc.want {
				t.Errorf("Outcome() = %v, want %v", got, tc.want)
			}
		})
	}
}
