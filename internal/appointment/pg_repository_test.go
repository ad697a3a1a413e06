package appointment

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/config"
	"github.com/hackgods/provider-availability-booking/internal/db"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

// newPgRepository connects to TEST_POSTGRES_DSN, migrates and empties the
// schema. The tests are skipped when the variable is not set.
func newPgRepository(t *testing.T) (*PgRepository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 20, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, db.Migrations()).Up(ctx)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE event_logs, appointments, appointment_slots, availability_rules, patients, providers`)
	require.NoError(t, err)

	return NewPgRepository(pool), pool
}

func insertPgProvider(t *testing.T, pool *pgxpool.Pool, specialization string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO providers (id, first_name, last_name, specialization, years_of_experience,
			clinic_street, clinic_city, clinic_state, clinic_zip)
		VALUES ($1, 'Ada', 'Lovelace', $2, 10, '1 Main St', 'Springfield', 'IL', '62701')
	`, id, specialization)
	require.NoError(t, err)
	return id
}

func insertPgPatient(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO patients (id, first_name, last_name, email)
		VALUES ($1, 'Pat', 'Doe', $2)
	`, id, id.String()+"@example.com")
	require.NoError(t, err)
	return id
}

func TestPgRepositoryBookingLifecycle(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()
	svc := NewService(repo, NewLocalLocker(), config.Config{AutoConfirmBookings: true}, zerolog.Nop())

	providerID := insertPgProvider(t, pool, "Cardiology")
	patientID := insertPgPatient(t, pool)

	req := morning(testDate)
	req.Location = &Location{Type: LocationClinic, Address: "1 Main St", Room: "4"}
	req.Pricing = &Pricing{BaseFee: 120.5, InsuranceAccepted: true}
	req.SpecialRequirements = []string{"fasting"}
	created, err := svc.CreateAvailability(ctx, ProviderActor(providerID), req)
	require.NoError(t, err)
	require.Equal(t, 6, created.SlotsCreated)

	rule, err := repo.GetRuleByID(ctx, created.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00-12:00", rule.Window().String())
	assert.Equal(t, 120.5, rule.Pricing.BaseFee)
	assert.Equal(t, "USD", rule.Pricing.Currency)
	assert.Equal(t, []string{"fasting"}, rule.SpecialRequirements)

	slotID := created.Slots[0].ID
	appt, err := svc.BookAppointment(ctx, PatientActor(patientID), BookAppointmentRequest{SlotID: slotID, Mode: ModeInPerson})
	require.NoError(t, err)
	assert.Equal(t, 120.5, appt.EstimatedAmount)

	slot, err := repo.GetSlotByID(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, slot.Status)

	byRef, err := repo.GetAppointmentByReference(ctx, appt.BookingReference)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, byRef.ID)

	cancelled, err := svc.CancelAppointment(ctx, PatientActor(patientID), appt.ID, "conflict at work")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	slot, err = repo.GetSlotByID(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, slot.Status)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM event_logs`).Scan(&events))
	assert.Equal(t, 3, events)

	listings, err := repo.SearchSlots(ctx, SlotQuery{From: testDate, To: testDate.AddDate(0, 0, 1), Specialization: "cardiology"})
	require.NoError(t, err)
	assert.Len(t, listings, 6)
}

func TestPgRepositoryConcurrentBooking(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()

	// one service per "instance" so only the database serializes them
	providerID := insertPgProvider(t, pool, "Dermatology")
	svcA := NewService(repo, NewLocalLocker(), config.Config{AutoConfirmBookings: true}, zerolog.Nop())
	svcB := NewService(repo, NewLocalLocker(), config.Config{AutoConfirmBookings: true}, zerolog.Nop())

	created, err := svcA.CreateAvailability(ctx, ProviderActor(providerID), morning(testDate))
	require.NoError(t, err)
	slotID := created.Slots[0].ID

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		patientID := insertPgPatient(t, pool)
		svc := svcA
		if i%2 == 1 {
			svc = svcB
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.BookAppointment(ctx, PatientActor(patientID), BookAppointmentRequest{SlotID: slotID, Mode: ModeInPerson}); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	n, err := repo.CountActiveAppointments(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPgRepositoryPatientUniqueIndex(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()
	svc := NewService(repo, NewLocalLocker(), config.Config{AutoConfirmBookings: true}, zerolog.Nop())

	providerID := insertPgProvider(t, pool, "Cardiology")
	patientID := insertPgPatient(t, pool)
	created, err := svc.CreateAvailability(ctx, ProviderActor(providerID), morning(testDate))
	require.NoError(t, err)
	slot := created.Slots[0]

	newAppt := func(ref string) *Appointment {
		return &Appointment{
			ID: uuid.New(), SlotID: slot.ID, ProviderID: providerID, PatientID: patientID,
			Mode: ModeInPerson, AppointmentType: TypeConsultation, DateTime: slot.StartTime,
			Status: StatusConfirmed, BookingReference: ref,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
	}

	require.NoError(t, repo.CreateAppointment(ctx, newAppt("APT-ONE")))
	assert.ErrorIs(t, repo.CreateAppointment(ctx, newAppt("APT-TWO")), ErrOverlappingAppointment)

	other := newAppt("APT-ONE")
	other.PatientID = insertPgPatient(t, pool)
	assert.ErrorIs(t, repo.CreateAppointment(ctx, other), ErrDuplicateReference)
}

func TestPgRepositorySearchSlotsFilters(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()
	svc := NewService(repo, NewLocalLocker(), config.Config{}, zerolog.Nop())

	cardio := insertPgProvider(t, pool, "Cardiology")
	cardioReq := morning(testDate)
	cardioReq.Location = &Location{Type: LocationClinic, Address: "1 Main St, Springfield"}
	cardioReq.Pricing = &Pricing{BaseFee: 200, InsuranceAccepted: true}
	_, err := svc.CreateAvailability(ctx, ProviderActor(cardio), cardioReq)
	require.NoError(t, err)

	derm := insertPgProvider(t, pool, "Dermatology")
	dermReq := morning(testDate)
	dermReq.EndTime = timewindow.MustClock("10:00")
	dermReq.AppointmentType = TypeTelemedicine
	dermReq.Location = &Location{Type: LocationTelemedicine, Address: "online"}
	dermReq.Pricing = &Pricing{BaseFee: 90}
	dermReq.Timezone = "America/New_York"
	_, err = svc.CreateAvailability(ctx, ProviderActor(derm), dermReq)
	require.NoError(t, err)

	// no location or pricing
	gp := insertPgProvider(t, pool, "General Practice")
	gpReq := morning(testDate)
	gpReq.EndTime = timewindow.MustClock("10:00")
	_, err = svc.CreateAvailability(ctx, ProviderActor(gp), gpReq)
	require.NoError(t, err)

	base := SlotQuery{From: testDate, To: testDate.AddDate(0, 0, 1)}
	cases := []struct {
		name  string
		apply func(q *SlotQuery)
		want  int
	}{
		{"no filters", func(*SlotQuery) {}, 10},
		{"location substring ignores case", func(q *SlotQuery) { q.Location = "SPRINGFIELD" }, 6},
		{"location with like wildcard", func(q *SlotQuery) { q.Location = "%" }, 0},
		{"location type", func(q *SlotQuery) { q.LocationType = LocationTelemedicine }, 2},
		{"insurance not accepted", func(q *SlotQuery) { q.InsuranceAccepted = ptr(false) }, 2},
		{"max price", func(q *SlotQuery) { q.MaxPrice = ptr(100.0) }, 2},
		{"max price is inclusive", func(q *SlotQuery) { q.MaxPrice = ptr(200.0) }, 8},
		{"timezone", func(q *SlotQuery) { q.Timezone = "America/New_York" }, 2},
		{"limit", func(q *SlotQuery) { q.Limit = 4 }, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := base
			tc.apply(&q)
			listings, err := repo.SearchSlots(ctx, q)
			require.NoError(t, err)
			assert.Len(t, listings, tc.want)

			mem := SearchRequest{
				Location:          q.Location,
				LocationType:      q.LocationType,
				InsuranceAccepted: q.InsuranceAccepted,
				MaxPrice:          q.MaxPrice,
				Timezone:          q.Timezone,
			}
			for _, l := range listings {
				assert.True(t, mem.Matches(l), "listing %s", l.Slot.ID)
			}
		})
	}

	svc.searchCap = 9
	_, err = svc.SearchAvailability(ctx, SearchRequest{Date: ptr(testDate)})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	res, err := svc.SearchAvailability(ctx, SearchRequest{Date: ptr(testDate), Location: "springfield"})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalResults)
	assert.Len(t, res.Results[0].Slots, 6)
}
