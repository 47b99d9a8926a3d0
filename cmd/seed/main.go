package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kokosante/booking-backend/internal/db"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinicIDs, err := seedClinics(context.Background(), pool, 5, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clinics")
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, clinicIDs, 40, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedSecretaries(context.Background(), pool, clinicIDs, 2, log); err != nil {
		log.Fatal().Err(err).Msg("seed secretaries")
	}
	patientIDs, err := seedPatients(context.Background(), pool, 2000, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedAppointments(context.Background(), pool, doctorIDs, patientIDs, log); err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().Msg("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding clinics")

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := fmt.Sprintf("Clinique %s", gofakeit.LastName())
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"Médecine générale",
		"Cardiologie",
		"Dermatologie",
		"Pédiatrie",
		"Gynécologie",
		"Ophtalmologie",
		"Neurologie",
		"ORL",
	}

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		clinic := clinicIDs[gofakeit.Number(0, len(clinicIDs)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, user_id, name, specialty, clinic_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, uuid.New(), gofakeit.Name(), spec, clinic)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedSecretaries(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, perClinic int, log zerolog.Logger) error {
	log.Info().Int("per_clinic", perClinic).Msg("seeding secretaries")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, clinicID := range clinicIDs {
		for i := 0; i < perClinic; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO secretaries (id, user_id, clinic_id, name, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, true, now(), now())
			`, uuid.New(), uuid.New(), clinicID, gofakeit.Name())
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, user_id, name, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, uuid.New(), gofakeit.Name(), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return ids, nil
}

// seedAppointments books a morning of slots per doctor for today, so
// queue positions have something to rank.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, doctorIDs, patientIDs []uuid.UUID, log zerolog.Logger) error {
	log.Info().Msg("seeding appointments")

	times := []string{"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00"}
	today := time.Now().Truncate(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		n := gofakeit.Number(2, len(times))
		for i := 0; i < n; i++ {
			patient := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]
			status := "confirmed"
			if gofakeit.Bool() {
				status = "pending"
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO appointments (id, doctor_id, patient_id, date, time, status, first_visit, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			`, uuid.New(), doctorID, patient, today, times[i], status, gofakeit.Bool())
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
