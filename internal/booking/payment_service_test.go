package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kokosante/booking-backend/internal/gateway"
)

func bookAppointment(t *testing.T, svc *Service, repo *fakeRepo) (*Appointment, *Patient) {
	t.Helper()
	doctor := repo.addDoctor(nil)
	patient := repo.addPatient()
	appt, err := svc.CreateAppointment(context.Background(), Appointment{
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Date:      date(2026, time.September, 1),
		Time:      "09:00",
	})
	if err != nil {
		t.Fatalf("book appointment: %v", err)
	}
	return appt, patient
}

func validInitInput(appt *Appointment, patient *Patient) InitPaymentInput {
	return InitPaymentInput{
		Amount:        10000,
		AppointmentID: appt.ID,
		PatientID:     patient.ID,
		CustomerName:  "Aminata Traoré",
		CustomerPhone: "70123456",
	}
}

func TestInitPayment(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	res, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("InitPayment: %v", err)
	}
	if res.PaymentURL == "" {
		t.Errorf("expected a checkout url")
	}

	payment, err := repo.GetPaymentByID(context.Background(), res.PaymentID)
	if err != nil {
		t.Fatalf("payment not persisted: %v", err)
	}
	if payment.Status != PaymentPending {
		t.Errorf("status = %s, want %s", payment.Status, PaymentPending)
	}
	if payment.Type != PaymentDeposit {
		t.Errorf("type = %s, want %s", payment.Type, PaymentDeposit)
	}
	if payment.TransactionRef != payment.ID.String() {
		t.Errorf("transaction ref should default to the payment id")
	}

	// The correlation ids must travel with the checkout session.
	if gw.lastReq.PersonalInfo.PaymentID != payment.ID.String() {
		t.Errorf("personal info payment id = %q", gw.lastReq.PersonalInfo.PaymentID)
	}
	if gw.lastReq.PersonalInfo.AppointmentID != appt.ID.String() {
		t.Errorf("personal info appointment id = %q", gw.lastReq.PersonalInfo.AppointmentID)
	}
}

func TestInitPaymentValidation(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	tests := []struct {
		name   string
		mutate func(*InitPaymentInput)
	}{
		{"zero amount", func(in *InitPaymentInput) { in.Amount = 0 }},
		{"negative amount", func(in *InitPaymentInput) { in.Amount = -500 }},
		{"missing appointment", func(in *InitPaymentInput) { in.AppointmentID = uuid.Nil }},
		{"missing patient", func(in *InitPaymentInput) { in.PatientID = uuid.Nil }},
		{"blank name", func(in *InitPaymentInput) { in.CustomerName = "   " }},
		{"short phone", func(in *InitPaymentInput) { in.CustomerPhone = "7012" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validInitInput(appt, patient)
			tc.mutate(&in)
			if _, err := svc.InitPayment(context.Background(), in); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestInitPaymentGatewayNotConfigured(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	gw.configured = false
	appt, patient := bookAppointment(t, svc, repo)

	_, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if !errors.Is(err, gateway.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if len(repo.payments) != 0 {
		t.Errorf("no payment row should exist when the gateway is not configured")
	}
}

func TestInitPaymentCancelledAppointment(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)
	if _, err := repo.UpdateAppointmentStatus(context.Background(), appt.ID, AppointmentPending, AppointmentCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.InitPayment(context.Background(), validInitInput(appt, patient)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestInitPaymentDoubleSubmit(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	if _, err := svc.InitPayment(context.Background(), validInitInput(appt, patient)); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := svc.InitPayment(context.Background(), validInitInput(appt, patient)); !errors.Is(err, ErrPaymentInFlight) {
		t.Fatalf("second init err = %v, want ErrPaymentInFlight", err)
	}
	if gw.calls != 1 {
		t.Errorf("gateway called %d times, want 1", gw.calls)
	}
	if len(repo.payments) != 1 {
		t.Errorf("%d payment rows, want 1", len(repo.payments))
	}
}

func TestInitPaymentAlreadyPaid(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	res, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	now := time.Now()
	if _, err := repo.UpdatePaymentStatus(context.Background(), res.PaymentID, PaymentPending, PaymentSuccess, "tok_x", &now); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := svc.InitPayment(context.Background(), validInitInput(appt, patient)); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("err = %v, want ErrAlreadyPaid", err)
	}
}

func TestInitPaymentRetryAfterGatewayFailure(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	appt, patient := bookAppointment(t, svc, repo)

	gw.err = gateway.ErrGateway
	_, err := svc.InitPayment(context.Background(), validInitInput(appt, patient))
	if !errors.Is(err, gateway.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}

	// The failed attempt must not block a retry.
	gw.err = nil
	if _, err := svc.InitPayment(context.Background(), validInitInput(appt, patient)); err != nil {
		t.Fatalf("retry after gateway failure: %v", err)
	}
}

func TestInitTeleconsultationFree(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	gw.configured = false // free sessions never touch the gateway
	doctor := repo.addDoctor(nil)
	patient := repo.addPatient()

	res, err := svc.InitTeleconsultation(context.Background(), InitTeleconsultInput{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		DurationMinutes: 30,
		Amount:          0,
	})
	if err != nil {
		t.Fatalf("InitTeleconsultation: %v", err)
	}
	if !res.IsFree {
		t.Errorf("expected a free session")
	}
	if len(res.AccessCode) != accessCodeLength {
		t.Errorf("access code %q, want %d chars", res.AccessCode, accessCodeLength)
	}
	if res.ChannelName == "" {
		t.Errorf("expected a channel name")
	}

	session, err := repo.GetSessionByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.Status != SessionPaid {
		t.Errorf("status = %s, want %s", session.Status, SessionPaid)
	}
	if len(repo.payments) != 0 {
		t.Errorf("a free session must not create a payment")
	}
}

func TestInitTeleconsultationPaid(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	doctor := repo.addDoctor(nil)
	patient := repo.addPatient()

	res, err := svc.InitTeleconsultation(context.Background(), InitTeleconsultInput{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		DurationMinutes: 30,
		Amount:          15000,
		CustomerName:    "Aminata Traoré",
		CustomerPhone:   "70123456",
	})
	if err != nil {
		t.Fatalf("InitTeleconsultation: %v", err)
	}
	if res.IsFree {
		t.Errorf("session should not be free")
	}
	if res.AccessCode != "" {
		t.Errorf("access code leaked before payment confirmation")
	}
	if res.PaymentURL == "" {
		t.Errorf("expected a checkout url")
	}

	session, err := repo.GetSessionByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.Status != SessionPending {
		t.Errorf("status = %s, want %s", session.Status, SessionPending)
	}

	payment, err := repo.GetPaymentByID(context.Background(), res.PaymentID)
	if err != nil {
		t.Fatalf("payment not persisted: %v", err)
	}
	if payment.SessionID == nil || *payment.SessionID != res.SessionID {
		t.Errorf("payment not linked to the session")
	}
}

func TestInitTeleconsultationPaidGatewayFailure(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	gw.err = gateway.ErrGateway
	doctor := repo.addDoctor(nil)
	patient := repo.addPatient()

	res, err := svc.InitTeleconsultation(context.Background(), InitTeleconsultInput{
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		DurationMinutes: 30,
		Amount:          15000,
		CustomerName:    "Aminata Traoré",
		CustomerPhone:   "70123456",
	})
	if !errors.Is(err, gateway.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}
	if res != nil {
		t.Fatalf("expected no result")
	}

	// Both the payment and the session are closed out.
	for _, p := range repo.payments {
		if p.Status != PaymentFailed {
			t.Errorf("payment status = %s, want %s", p.Status, PaymentFailed)
		}
	}
	for _, s := range repo.sessions {
		if s.Status != SessionCancelled {
			t.Errorf("session status = %s, want %s", s.Status, SessionCancelled)
		}
	}
}

func TestGenerateAccessCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := generateAccessCode()
		if err != nil {
			t.Fatalf("generateAccessCode: %v", err)
		}
		if len(code) != accessCodeLength {
			t.Fatalf("code %q has %d chars, want %d", code, len(code), accessCodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(accessCodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 95 {
		t.Errorf("only %d distinct codes out of 100", len(seen))
	}
}
