package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/provider-availability-booking/internal/appointment"
	"github.com/hackgods/provider-availability-booking/internal/config"
	"github.com/hackgods/provider-availability-booking/internal/db"
	"github.com/hackgods/provider-availability-booking/internal/logging"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Europe/London",
	"UTC",
}

type seedOptions struct {
	providers int
	patients  int
	weeks     int
	seed      int64
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake providers, patients and availability",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().IntVar(&opts.providers, "providers", 100, "number of providers")
	cmd.Flags().IntVar(&opts.patients, "patients", 9000, "number of patients")
	cmd.Flags().IntVar(&opts.weeks, "weeks", 4, "weeks of weekly availability per provider")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one from the clock)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts seedOptions) error {
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(opts.seed))
	logger.Info().Int64("seed", opts.seed).Msg("seed starting")

	providers, err := seedProviders(ctx, pool, faker, opts.providers)
	if err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	logger.Info().Int("count", len(providers)).Msg("providers seeded")

	if err := seedPatients(ctx, pool, faker, opts.patients, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), appointment.NewLocalLocker(), cfg, logger)
	slots, err := seedAvailability(ctx, svc, faker, providers, opts.weeks)
	if err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}

	logger.Info().Int("slots", slots).Msg("seed complete")
	return nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	rows := make([][]any, 0, count)
	now := time.Now()

	for i := 0; i < count; i++ {
		id := uuid.New()
		addr := faker.Address()
		rows = append(rows, []any{
			id,
			faker.FirstName(),
			faker.LastName(),
			specializations[faker.Number(0, len(specializations)-1)],
			faker.Number(1, 35),
			addr.Street,
			addr.City,
			addr.State,
			addr.Zip,
			now,
			now,
		})
		ids = append(ids, id)
	}

	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"providers"},
		[]string{
			"id", "first_name", "last_name", "specialization", "years_of_experience",
			"clinic_street", "clinic_city", "clinic_state", "clinic_zip", "created_at", "updated_at",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			// index suffix keeps the unique email constraint satisfied
			email := fmt.Sprintf("%d.%s", i, faker.Email())
			batch.Queue(`
				INSERT INTO patients (id, first_name, last_name, email)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (email) DO NOTHING
			`, uuid.New(), faker.FirstName(), faker.LastName(), email)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}
	return nil
}

// seedAvailability gives each provider a weekly morning block starting on a
// random upcoming day.
func seedAvailability(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, providers []uuid.UUID, weeks int) (int, error) {
	types := []appointment.AppointmentType{
		appointment.TypeConsultation,
		appointment.TypeFollowUp,
		appointment.TypeTelemedicine,
	}
	durations := []int{15, 20, 30, 45, 60}

	total := 0
	for _, providerID := range providers {
		tz := timezones[faker.Number(0, len(timezones)-1)]
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return total, err
		}

		start := time.Now().In(loc).AddDate(0, 0, faker.Number(1, 7))
		date := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		var endDate *time.Time
		if weeks > 1 {
			d := date.AddDate(0, 0, 7*(weeks-1))
			endDate = &d
		}

		apptType := types[faker.Number(0, len(types)-1)]
		locType := appointment.LocationClinic
		if apptType == appointment.TypeTelemedicine {
			locType = appointment.LocationTelemedicine
		}

		startHour := faker.Number(7, 11)
		res, err := svc.CreateAvailability(ctx, appointment.ProviderActor(providerID), appointment.CreateAvailabilityRequest{
			Date:                   date,
			StartTime:              timewindow.Clock(startHour * 60),
			EndTime:                timewindow.Clock((startHour + faker.Number(3, 6)) * 60),
			Timezone:               tz,
			IsRecurring:            endDate != nil,
			RecurrencePattern:      weeklyIf(endDate != nil),
			RecurrenceEndDate:      endDate,
			SlotDurationMinutes:    durations[faker.Number(0, len(durations)-1)],
			BreakDurationMinutes:   5 * faker.Number(0, 2),
			MaxAppointmentsPerSlot: faker.Number(1, 3),
			AppointmentType:        apptType,
			Location: &appointment.Location{
				Type:    locType,
				Address: faker.Address().Address,
				Room:    fmt.Sprintf("%d", faker.Number(100, 450)),
			},
			Pricing: &appointment.Pricing{
				BaseFee:           float64(faker.Number(40, 300)),
				InsuranceAccepted: faker.Bool(),
				Currency:          "USD",
			},
			Notes: "seeded " + strings.ToLower(string(apptType)) + " hours",
		})
		if err != nil {
			return total, fmt.Errorf("provider %s: %w", providerID, err)
		}
		total += res.SlotsCreated
	}
	return total, nil
}

func weeklyIf(recurring bool) recurrence.Pattern {
	if recurring {
		return recurrence.Weekly
	}
	return ""
}
