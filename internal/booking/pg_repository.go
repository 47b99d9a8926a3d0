package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kokosante/booking-backend/internal/notify"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// queries run inside and outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// WithTx runs fn against a repository bound to one transaction. Calls on
// a repository already inside a transaction reuse it.
func (r *PgRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &PgRepository{pool: r.pool, q: tx, inTx: true}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Specialty,
		&d.ClinicID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

const appointmentColumns = `id, doctor_id, patient_id, clinic_id, date, time, status, first_visit,
	cancellation_reason, confirmed_at, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ClinicID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.FirstVisit,
		&a.CancellationReason,
		&a.ConfirmedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const paymentColumns = `id, appointment_id, session_id, patient_id, amount, status, payment_type,
	provider, transaction_ref, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.SessionID,
		&p.PatientID,
		&p.Amount,
		&p.Status,
		&p.Type,
		&p.Provider,
		&p.TransactionRef,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

const sessionColumns = `id, doctor_id, patient_id, channel_name, access_code, duration_minutes,
	amount, status, started_at, created_at, updated_at`

func scanSession(row pgx.Row) (*TeleconsultSession, error) {
	var s TeleconsultSession
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.PatientID,
		&s.ChannelName,
		&s.AccessCode,
		&s.DurationMinutes,
		&s.Amount,
		&s.Status,
		&s.StartedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, user_id, name, specialty, clinic_id, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, user_id, name, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListActiveSecretaryUserIDs(ctx context.Context, clinicID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id
		FROM secretaries
		WHERE clinic_id = $1 AND active
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, clinic_id, date, time, status, first_visit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.ClinicID, appt.Date, appt.Time, appt.Status, appt.FirstVisit)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('pending', 'confirmed')
		ORDER BY time, created_at
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, reason)
	return scanAppointment(row)
}

func (r *PgRepository) CreatePayment(ctx context.Context, p Payment) (*Payment, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, session_id, patient_id, amount, status, payment_type, provider, transaction_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+paymentColumns+`
	`, p.ID, p.AppointmentID, p.SessionID, p.PatientID, p.Amount, p.Status, p.Type, p.Provider, p.TransactionRef)
	return scanPayment(row)
}

func (r *PgRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *PgRepository) GetPaymentByTransactionRef(ctx context.Context, ref string) (*Payment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_ref = $1
	`, ref)
	return scanPayment(row)
}

func (r *PgRepository) GetOpenPaymentForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		  AND status IN ('pending', 'success')
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanPayment(row)
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus, transactionRef string, paidAt *time.Time) (*Payment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    transaction_ref = CASE WHEN $4 <> '' THEN $4 ELSE transaction_ref END,
		    paid_at = COALESCE($5, paid_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+paymentColumns+`
	`, id, to, from, transactionRef, paidAt)
	return scanPayment(row)
}

func (r *PgRepository) FindExpiredPendingPayments(ctx context.Context, cutoff time.Time) ([]Payment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateSession(ctx context.Context, s TeleconsultSession) (*TeleconsultSession, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO teleconsultation_sessions (id, doctor_id, patient_id, channel_name, access_code, duration_minutes, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+sessionColumns+`
	`, s.ID, s.DoctorID, s.PatientID, s.ChannelName, s.AccessCode, s.DurationMinutes, s.Amount, s.Status)
	return scanSession(row)
}

func (r *PgRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (*TeleconsultSession, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM teleconsultation_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PgRepository) GetSessionByAccessCode(ctx context.Context, code string) (*TeleconsultSession, error) {
	// Codes are only unique among non-terminal sessions, so terminal ones
	// are shadowed by a live session with the same code.
	row := r.q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM teleconsultation_sessions
		WHERE access_code = $1
		ORDER BY CASE WHEN status IN ('completed', 'cancelled') THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1
	`, code)
	return scanSession(row)
}

func (r *PgRepository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, startedAt *time.Time) (*TeleconsultSession, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE teleconsultation_sessions
		SET status = $2,
		    started_at = COALESCE($4, started_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+sessionColumns+`
	`, id, to, from, startedAt)
	return scanSession(row)
}

func (r *PgRepository) InsertNotifications(ctx context.Context, list []notify.Notification) error {
	for _, n := range list {
		_, err := r.q.Exec(ctx, `
			INSERT INTO notifications (id, user_id, type, title, message, data, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, n.ID, n.UserID, n.Type, n.Title, n.Message, []byte(n.Data), n.IsRead, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]notify.Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, type, title, message, data, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.Notification
	for rows.Next() {
		var n notify.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Data = data
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	return err
}

func (r *PgRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE user_id = $1 AND NOT is_read
	`, userID)
	return err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SubjectID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
