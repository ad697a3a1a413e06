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
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/provider-availability-booking/internal/api"
	"github.com/hackgods/provider-availability-booking/internal/appointment"
	"github.com/hackgods/provider-availability-booking/internal/config"
	"github.com/hackgods/provider-availability-booking/internal/db"
	"github.com/hackgods/provider-availability-booking/internal/logging"
)

type simOptions struct {
	baseURL      string
	duration     time.Duration
	workers      int
	bookingRatio float64
	cancelRatio  float64
	readRatio    float64
	patientLimit int
	slotLimit    int
	burst        int
}

var patientRole = string(appointment.RolePatient)

type slotRef struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Capacity   int
}

type dataPool struct {
	patients []uuid.UUID
	slots    []slotRef

	mu     sync.RWMutex
	booked []bookedRef
}

type bookedRef struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

func (dp *dataPool) addBooking(b bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

func (dp *dataPool) randomBooking(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return bookedRef{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeCapacity
	outcomeError
)

type opMetrics struct {
	counts [4]atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *opMetrics) record(latency time.Duration, o outcome) {
	m.counts[o].Add(1)
	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *opMetrics) total() int64 {
	var n int64
	for i := range m.counts {
		n += m.counts[i].Load()
	}
	return n
}

// percentiles returns p50, p95 and p99 of the recorded latencies.
func (m *opMetrics) percentiles() (p50, p95, p99 time.Duration) {
	m.mu.Lock()
	sorted := slices.Clone(m.latencies)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)
	at := func(p int) time.Duration {
		return sorted[min(len(sorted)*p/100, len(sorted)-1)]
	}
	return at(50), at(95), at(99)
}

type simulator struct {
	opts   simOptions
	pool   *dataPool
	client *http.Client
	logger zerolog.Logger

	booking opMetrics
	cancel  opMetrics
	read    opMetrics
}

func main() {
	opts := simOptions{}

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Generate concurrent booking load against a running api-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "api-server base URL")
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to generate load")
	f.IntVar(&opts.workers, "workers", 10, "concurrent workers")
	f.Float64Var(&opts.bookingRatio, "booking-ratio", 0.6, "share of booking requests")
	f.Float64Var(&opts.cancelRatio, "cancel-ratio", 0.1, "share of cancellations")
	f.Float64Var(&opts.readRatio, "read-ratio", 0.3, "share of reads")
	f.IntVar(&opts.patientLimit, "patients", 4000, "patients to load")
	f.IntVar(&opts.slotLimit, "slots", 2400, "available slots to load")
	f.IntVar(&opts.burst, "burst", 0, "if set, send this many simultaneous bookings for one slot and exit")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts simOptions, out io.Writer) error {
	logger := logging.New("simulate", cfg.Env, cfg.LogLevel)

	if opts.workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if opts.duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if total := opts.bookingRatio + opts.cancelRatio + opts.readRatio; total > 0 {
		opts.bookingRatio /= total
		opts.cancelRatio /= total
		opts.readRatio /= total
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(loadCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	data, err := loadDataPool(loadCtx, pool, opts)
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}
	logger.Info().Int("patients", len(data.patients)).Int("slots", len(data.slots)).Msg("data pool loaded")

	sim := &simulator{
		opts:   opts,
		pool:   data,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	if opts.burst > 0 {
		return sim.runBurst(ctx, out)
	}

	sim.run(ctx)
	sim.report(out)
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, opts simOptions) (*dataPool, error) {
	data := &dataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, opts.patientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		data.patients = append(data.patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT s.id, s.provider_id, r.max_appointments_per_slot
		FROM appointment_slots s
		JOIN availability_rules r ON r.id = s.availability_id
		WHERE s.status = 'AVAILABLE' AND s.start_time > now()
		ORDER BY s.start_time
		LIMIT $1
	`, opts.slotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Capacity); err != nil {
			rows.Close()
			return nil, err
		}
		data.slots = append(data.slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(data.patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(data.slots) == 0 {
		return nil, fmt.Errorf("no available slots loaded, run seed first")
	}
	return data, nil
}

func (s *simulator) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.opts.duration).Int("workers", s.opts.workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("simulation complete")
}

func (s *simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.opts.bookingRatio:
			slot := s.pool.slots[rng.Intn(len(s.pool.slots))]
			patient := s.pool.patients[rng.Intn(len(s.pool.patients))]
			s.book(ctx, slot, patient)
		case r < s.opts.bookingRatio+s.opts.cancelRatio:
			s.cancelOne(ctx, rng)
		default:
			s.readOne(ctx, rng)
		}
	}
}

// runBurst fires opts.burst bookings for the same slot at once and checks
// that no more than the slot's capacity succeeded.
func (s *simulator) runBurst(ctx context.Context, out io.Writer) error {
	if len(s.pool.patients) < s.opts.burst {
		return fmt.Errorf("burst of %d needs as many patients, have %d", s.opts.burst, len(s.pool.patients))
	}
	slot := s.pool.slots[0]

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.opts.burst; i++ {
		wg.Add(1)
		go func(patient uuid.UUID) {
			defer wg.Done()
			<-start
			s.book(ctx, slot, patient)
		}(s.pool.patients[i])
	}
	close(start)
	wg.Wait()

	s.report(out)

	won := s.booking.counts[outcomeSuccess].Load()
	if won > int64(slot.Capacity) {
		return fmt.Errorf("slot %s accepted %d bookings with capacity %d", slot.ID, won, slot.Capacity)
	}
	fmt.Fprintf(out, "slot %s: %d of %d bookings accepted (capacity %d)\n", slot.ID, won, s.opts.burst, slot.Capacity)
	return nil
}

func (s *simulator) do(ctx context.Context, method, path string, actor *uuid.UUID, role string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.opts.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(api.HeaderActorRole, role)
		req.Header.Set(api.HeaderActorID, actor.String())
	}
	return s.client.Do(req)
}

func (s *simulator) book(ctx context.Context, slot slotRef, patient uuid.UUID) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments", &patient, patientRole, api.BookAppointmentRequest{
		SlotID: slot.ID.String(),
		Mode:   "IN_PERSON",
		Reason: "load test",
	})
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.booking.record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var appt api.AppointmentResponse
		if err := json.NewDecoder(resp.Body).Decode(&appt); err == nil {
			s.pool.addBooking(bookedRef{ID: appt.ID, PatientID: patient})
		}
		s.booking.record(latency, outcomeSuccess)
	case http.StatusConflict:
		s.booking.record(latency, classifyConflict(resp.Body))
	default:
		s.booking.record(latency, outcomeError)
	}
}

func (s *simulator) cancelOne(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.randomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", &b.PatientID, patientRole,
		api.CancelAppointmentRequest{Reason: "load test"})
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.cancel.record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		s.cancel.record(latency, outcomeSuccess)
	case http.StatusConflict:
		s.cancel.record(latency, outcomeConflict)
	default:
		s.cancel.record(latency, outcomeError)
	}
}

func (s *simulator) readOne(ctx context.Context, rng *rand.Rand) {
	var path string
	if b, ok := s.pool.randomBooking(rng); ok && rng.Intn(2) == 0 {
		path = "/appointments/" + b.ID.String()
	} else {
		slot := s.pool.slots[rng.Intn(len(s.pool.slots))]
		today := time.Now().UTC()
		path = fmt.Sprintf("/providers/%s/slots?start_date=%s&end_date=%s", slot.ProviderID,
			today.Format(time.DateOnly), today.AddDate(0, 0, 7).Format(time.DateOnly))
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, path, nil, "", nil)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.read.record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		s.read.record(latency, outcomeSuccess)
	} else {
		s.read.record(latency, outcomeError)
	}
}

func classifyConflict(body io.Reader) outcome {
	var e api.ErrorResponse
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return outcomeConflict
	}
	switch e.Error {
	case "slot_full", "capacity_exceeded":
		return outcomeCapacity
	default:
		return outcomeConflict
	}
}

func (s *simulator) report(out io.Writer) {
	line := strings.Repeat("=", 72)
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, "SIMULATION REPORT")
	fmt.Fprintln(out, line)
	if s.opts.burst == 0 {
		fmt.Fprintf(out, "Duration: %s  Workers: %d\n\n", s.opts.duration, s.opts.workers)
	}

	printOp(out, "Booking", &s.booking)
	printOp(out, "Cancel", &s.cancel)
	printOp(out, "Read", &s.read)
}

func printOp(out io.Writer, name string, m *opMetrics) {
	total := m.total()
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	p50, p95, p99 := m.percentiles()

	fmt.Fprintf(out, "%s:\n", name)
	fmt.Fprintf(out, "  Total:     %d\n", total)
	labels := [...]string{"Success", "Conflicts", "Capacity", "Errors"}
	for i, label := range labels {
		if n := m.counts[i].Load(); n > 0 || i == int(outcomeSuccess) {
			fmt.Fprintf(out, "  %-10s %d (%.1f%%)\n", label+":", n, pct(n))
		}
	}
	fmt.Fprintf(out, "  Latency:   p50=%s p95=%s p99=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
}
