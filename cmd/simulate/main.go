// Load simulator for the booking API: books appointments, injects pending
// payments, and fires gateway-style webhook callbacks at the server,
// including deliberate duplicate deliveries to exercise idempotence.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kokosante/booking-backend/internal/api"
	"github.com/kokosante/booking-backend/internal/config"
	"github.com/kokosante/booking-backend/internal/db"
	"github.com/kokosante/booking-backend/internal/gateway"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	WebhookRatio   float64
	DuplicateRatio float64
	WebhookSecret  string
	PostgresDSN    string
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
	payments     []paymentRef
}

type paymentRef struct {
	ID    uuid.UUID
	Appt  uuid.UUID
	Token string
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

func (dp *DataPool) AddPayment(p paymentRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.payments = append(dp.payments, p)
}

func (dp *DataPool) RandomPayment() (paymentRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.payments) == 0 {
		return paymentRef{}, false
	}
	return dp.payments[rand.Intn(len(dp.payments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	p50 = latencies[len(latencies)*50/100]
	idx95 := len(latencies) * 95 / 100
	if idx95 >= len(latencies) {
		idx95 = len(latencies) - 1
	}
	p95 = latencies[idx95]
	return avg, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Queue   OperationMetrics
	Webhook OperationMetrics
}

type Simulator struct {
	cfg     SimConfig
	pool    *DataPool
	pg      *pgxpool.Pool
	client  *http.Client
	metrics Metrics
}

func main() {
	cfg := loadSimConfig()

	appCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.PostgresDSN = appCfg.PostgresDSN
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = appCfg.WebhookSecret
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	pool, err := loadDataPool(context.Background(), pg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load data pool: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d doctors, %d patients\n", len(pool.Doctors), len(pool.Patients))

	sim := &Simulator{
		cfg:    cfg,
		pool:   pool,
		pg:     pg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.run()
	sim.report()
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     envOr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:       30 * time.Second,
		Workers:        8,
		BookingRatio:   0.4,
		WebhookRatio:   0.3,
		DuplicateRatio: 0.2,
		WebhookSecret:  os.Getenv("PAYMENT_WEBHOOK_SECRET"),
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadDataPool(ctx context.Context, pg *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pg.Query(ctx, `SELECT id FROM doctors LIMIT 200`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Doctors = append(dp.Doctors, id)
	}

	prows, err := pg.Query(ctx, `SELECT id FROM patients LIMIT 1000`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var id uuid.UUID
		if err := prows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}

	if len(dp.Doctors) == 0 || len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no doctors or patients seeded, run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) run() {
	fmt.Printf("running %d workers for %s against %s\n", s.cfg.Workers, s.cfg.Duration, s.cfg.APIBaseURL)

	deadline := time.Now().Add(s.cfg.Duration)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := rand.Float64()
				switch {
				case r < s.cfg.BookingRatio:
					s.doBooking()
				case r < s.cfg.BookingRatio+s.cfg.WebhookRatio:
					s.doWebhook()
				default:
					s.doQueueRead()
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Simulator) doBooking() {
	doctor := s.pool.Doctors[rand.Intn(len(s.pool.Doctors))]
	patient := s.pool.Patients[rand.Intn(len(s.pool.Patients))]
	hour := 8 + rand.Intn(9)
	minute := []int{0, 30}[rand.Intn(2)]

	body, _ := json.Marshal(map[string]any{
		"doctor_id":  doctor.String(),
		"patient_id": patient.String(),
		"date":       time.Now().Format("2006-01-02"),
		"time":       fmt.Sprintf("%02d:%02d", hour, minute),
	})

	start := time.Now()
	resp, err := s.client.Post(s.cfg.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return
	}
	defer drain(resp)

	ok := resp.StatusCode == http.StatusCreated
	s.metrics.Booking.Record(latency, ok, resp.StatusCode == http.StatusConflict)
	if !ok {
		return
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
		s.injectPayment(created.ID, patient)
	}
}

// injectPayment writes a pending payment row directly, standing in for a
// checkout session the fake gateway never opens.
func (s *Simulator) injectPayment(appointmentID, patientID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.New()
	_, err := s.pg.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, amount, status, payment_type, provider, transaction_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 'deposit', 'mobile_money', $5, now(), now())
	`, id, appointmentID, patientID, 5000+rand.Intn(10)*1000, id.String())
	if err != nil {
		return
	}
	s.pool.AddPayment(paymentRef{ID: id, Appt: appointmentID, Token: "tok_" + uuid.NewString()[:8]})
}

func (s *Simulator) doWebhook() {
	p, ok := s.pool.RandomPayment()
	if !ok {
		return
	}

	cb := map[string]any{
		"event":    "payin.session.completed",
		"tokenPay": p.Token,
		"Montant":  5000,
		"personal_Info": []gateway.PersonalInfo{{
			PaymentID:     p.ID.String(),
			AppointmentID: p.Appt.String(),
		}},
	}
	body, _ := json.Marshal(cb)

	send := func() {
		req, err := http.NewRequest(http.MethodPost, s.cfg.APIBaseURL+"/webhooks/payment", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.WebhookSecret != "" {
			req.Header.Set(api.SignatureHeader, api.Sign(s.cfg.WebhookSecret, body))
		}

		start := time.Now()
		resp, err := s.client.Do(req)
		latency := time.Since(start)
		if err != nil {
			s.metrics.Webhook.Record(latency, false, false)
			return
		}
		defer drain(resp)
		s.metrics.Webhook.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNotFound)
	}

	send()
	// At-least-once gateways redeliver; the server must treat this as a
	// no-op.
	if rand.Float64() < s.cfg.DuplicateRatio {
		send()
	}
}

func (s *Simulator) doQueueRead() {
	id, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.client.Get(fmt.Sprintf("%s/appointments/%s/queue", s.cfg.APIBaseURL, id))
	latency := time.Since(start)
	if err != nil {
		s.metrics.Queue.Record(latency, false, false)
		return
	}
	defer drain(resp)
	s.metrics.Queue.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (s *Simulator) report() {
	print := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		fmt.Printf("%-10s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s\n",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, p50, p95)
	}

	fmt.Println("--- results ---")
	print("booking", &s.metrics.Booking)
	print("queue", &s.metrics.Queue)
	print("webhook", &s.metrics.Webhook)
}
