package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	patientActiveTimeIndex = "uq_appointments_patient_active_time"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgStore implements Store against a pool or an open transaction.
type pgStore struct {
	db dbtx
}

type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgStore: pgStore{db: pool}, pool: pool}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStore{db: tx})
	})
}

// Helpers

const (
	providerColumns = `p.id, p.first_name, p.last_name, p.specialization, p.years_of_experience,
		p.clinic_street, p.clinic_city, p.clinic_state, p.clinic_zip, p.created_at, p.updated_at`

	ruleColumns = `r.id, r.provider_id, r.date, r.start_time, r.end_time, r.timezone, r.is_recurring,
		r.recurrence_pattern, r.recurrence_end_date, r.slot_duration_minutes, r.break_duration_minutes,
		r.max_appointments_per_slot, r.appointment_type, r.location_type, r.location_address,
		r.location_room, r.base_fee, r.insurance_accepted, r.currency, r.notes,
		r.special_requirements, r.status, r.created_at, r.updated_at`

	slotColumns = `s.id, s.availability_id, s.provider_id, s.start_time, s.end_time, s.status,
		s.appointment_type, s.booking_reference, s.created_at, s.updated_at`

	appointmentColumns = `a.id, a.slot_id, a.provider_id, a.patient_id, a.mode, a.appointment_type,
		a.estimated_amount, a.date_time, a.reason, a.status, a.booking_reference,
		a.cancellation_reason, a.cancelled_at, a.created_at, a.updated_at`
)

func pgClock(c timewindow.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPg(t pgtype.Time) timewindow.Clock {
	return timewindow.Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type providerRow struct{ p Provider }

func (r *providerRow) dest() []any {
	p := &r.p
	return []any{&p.ID, &p.FirstName, &p.LastName, &p.Specialization, &p.YearsOfExperience,
		&p.ClinicAddress.Street, &p.ClinicAddress.City, &p.ClinicAddress.State, &p.ClinicAddress.Zip,
		&p.CreatedAt, &p.UpdatedAt}
}

type ruleRow struct {
	rule       AvailabilityRule
	start, end pgtype.Time
	pattern    *string
	locType    *string
	locAddress *string
	locRoom    *string
	fee        *float64
	insurance  *bool
	currency   *string
}

func (r *ruleRow) dest() []any {
	x := &r.rule
	return []any{&x.ID, &x.ProviderID, &x.Date, &r.start, &r.end, &x.Timezone, &x.IsRecurring,
		&r.pattern, &x.RecurrenceEndDate, &x.SlotDurationMinutes, &x.BreakDurationMinutes,
		&x.MaxAppointmentsPerSlot, &x.AppointmentType, &r.locType, &r.locAddress,
		&r.locRoom, &r.fee, &r.insurance, &r.currency, &x.Notes,
		&x.SpecialRequirements, &x.Status, &x.CreatedAt, &x.UpdatedAt}
}

func (r *ruleRow) value() AvailabilityRule {
	rule := r.rule
	rule.StartTime = clockFromPg(r.start)
	rule.EndTime = clockFromPg(r.end)
	rule.RecurrencePattern = recurrence.Pattern(derefString(r.pattern))
	if r.locType != nil {
		rule.Location = &Location{
			Type:    LocationType(*r.locType),
			Address: derefString(r.locAddress),
			Room:    derefString(r.locRoom),
		}
	}
	if r.fee != nil {
		rule.Pricing = &Pricing{
			BaseFee:           *r.fee,
			InsuranceAccepted: r.insurance != nil && *r.insurance,
			Currency:          derefString(r.currency),
		}
	}
	return rule
}

type slotRow struct{ s Slot }

func (r *slotRow) dest() []any {
	s := &r.s
	return []any{&s.ID, &s.AvailabilityID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.Status,
		&s.AppointmentType, &s.BookingReference, &s.CreatedAt, &s.UpdatedAt}
}

type appointmentRow struct {
	a      Appointment
	slotID *uuid.UUID
}

func (r *appointmentRow) dest() []any {
	a := &r.a
	return []any{&a.ID, &r.slotID, &a.ProviderID, &a.PatientID, &a.Mode, &a.AppointmentType,
		&a.EstimatedAmount, &a.DateTime, &a.Reason, &a.Status, &a.BookingReference,
		&a.CancellationReason, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt}
}

func (r *appointmentRow) value() Appointment {
	a := r.a
	if r.slotID != nil {
		a.SlotID = *r.slotID
	}
	return a
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var r slotRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, notFound(err, ErrSlotNotFound)
	}
	return &r.s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var r appointmentRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, notFound(err, ErrAppointmentNotFound)
	}
	a := r.value()
	return &a, nil
}

func collectSlots(rows pgx.Rows, err error) ([]Slot, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func collectAppointments(rows pgx.Rows, err error) ([]Appointment, error) {
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

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// Store methods

func (r *pgStore) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var row providerRow
	err := r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers p WHERE p.id = $1`, id).
		Scan(row.dest()...)
	if err != nil {
		return nil, notFound(err, ErrProviderNotFound)
	}
	return &row.p, nil
}

func (r *pgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrPatientNotFound)
	}
	return &p, nil
}

func (r *pgStore) GetRuleByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	var row ruleRow
	err := r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM availability_rules r WHERE r.id = $1`, id).
		Scan(row.dest()...)
	if err != nil {
		return nil, notFound(err, ErrRuleNotFound)
	}
	rule := row.value()
	return &rule, nil
}

func (r *pgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM appointment_slots s WHERE s.id = $1`, id))
}

func (r *pgStore) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM appointment_slots s WHERE s.id = $1 FOR UPDATE`, id))
}

func (r *pgStore) LockProvider(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id.String())
	if err != nil {
		return fmt.Errorf("lock provider %s: %w", id, err)
	}
	return nil
}

func (r *pgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id))
}

func (r *pgStore) ListSlotsByProviderAndRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return collectSlots(r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots s
		WHERE s.provider_id = $1
		  AND s.start_time >= $2
		  AND s.start_time < $3
		ORDER BY s.start_time
	`, providerID, from, to))
}

func (r *pgStore) ListSlotsByRule(ctx context.Context, ruleID uuid.UUID) ([]Slot, error) {
	return collectSlots(r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots s
		WHERE s.availability_id = $1
		ORDER BY s.start_time
	`, ruleID))
}

func (r *pgStore) CountActiveAppointments(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE slot_id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
	`, slotID).Scan(&n)
	return n, err
}

func (r *pgStore) FindActiveAppointmentsForPatientAt(ctx context.Context, patientID uuid.UUID, at time.Time) ([]Appointment, error) {
	return collectAppointments(r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.patient_id = $1
		  AND a.date_time = $2
		  AND a.status IN ('PENDING', 'CONFIRMED')
	`, patientID, at))
}

func (r *pgStore) ReferencesInUse(ctx context.Context, refs []string) (map[string]bool, error) {
	taken := make(map[string]bool)
	if len(refs) == 0 {
		return taken, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT booking_reference FROM appointment_slots WHERE booking_reference = ANY($1)
		UNION
		SELECT booking_reference FROM appointments WHERE booking_reference = ANY($1)
	`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		taken[ref] = true
	}
	return taken, rows.Err()
}

func (r *pgStore) CreateRule(ctx context.Context, rule *AvailabilityRule) error {
	var (
		locType, locAddress, locRoom, currency *string
		fee                                    *float64
		insurance                              *bool
	)
	if loc := rule.Location; loc != nil {
		locType = nullString(string(loc.Type))
		locAddress = nullString(loc.Address)
		locRoom = nullString(loc.Room)
	}
	if p := rule.Pricing; p != nil {
		fee = &p.BaseFee
		insurance = &p.InsuranceAccepted
		currency = nullString(p.Currency)
	}
	requirements := rule.SpecialRequirements
	if requirements == nil {
		requirements = []string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO availability_rules (
			id, provider_id, date, start_time, end_time, timezone, is_recurring,
			recurrence_pattern, recurrence_end_date, slot_duration_minutes, break_duration_minutes,
			max_appointments_per_slot, appointment_type, location_type, location_address,
			location_room, base_fee, insurance_accepted, currency, notes,
			special_requirements, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`,
		rule.ID, rule.ProviderID, rule.Date, pgClock(rule.StartTime), pgClock(rule.EndTime), rule.Timezone, rule.IsRecurring,
		nullString(string(rule.RecurrencePattern)), rule.RecurrenceEndDate, rule.SlotDurationMinutes, rule.BreakDurationMinutes,
		rule.MaxAppointmentsPerSlot, string(rule.AppointmentType), locType, locAddress,
		locRoom, fee, insurance, currency, rule.Notes,
		requirements, string(rule.Status), rule.CreatedAt, rule.UpdatedAt,
	)
	if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
		return ErrProviderNotFound
	}
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

func (r *pgStore) UpdateRuleNotes(ctx context.Context, id uuid.UUID, notes string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE availability_rules
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *pgStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// CreateSlots inserts the batch in one round trip.
func (r *pgStore) CreateSlots(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO appointment_slots (
				id, availability_id, provider_id, start_time, end_time, status,
				appointment_type, booking_reference, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, s.ID, s.AvailabilityID, s.ProviderID, s.StartTime, s.EndTime, string(s.Status),
			string(s.AppointmentType), s.BookingReference, s.CreatedAt, s.UpdatedAt)
	}

	br := r.db.SendBatch(ctx, batch)
	for range slots {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if code, _ := pgErrorCode(err); code == pgUniqueViolation {
				return ErrDuplicateReference
			}
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	return br.Close()
}

func (r *pgStore) UpdateSlotTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET start_time = $2,
		    end_time = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *pgStore) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *pgStore) DeleteSlots(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM appointment_slots WHERE id = ANY($1)`, ids)
	return err
}

func (r *pgStore) CreateAppointment(ctx context.Context, appt *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (
			id, slot_id, provider_id, patient_id, mode, appointment_type,
			estimated_amount, date_time, reason, status, booking_reference,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, appt.ID, appt.SlotID, appt.ProviderID, appt.PatientID, string(appt.Mode), string(appt.AppointmentType),
		appt.EstimatedAmount, appt.DateTime, appt.Reason, string(appt.Status), appt.BookingReference,
		appt.CreatedAt, appt.UpdatedAt)

	switch code, constraint := pgErrorCode(err); {
	case err == nil:
		return nil
	case code == pgUniqueViolation && constraint == patientActiveTimeIndex:
		return ErrOverlappingAppointment
	case code == pgUniqueViolation:
		return ErrDuplicateReference
	default:
		return fmt.Errorf("insert appointment: %w", err)
	}
}

func (r *pgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason string) (*Appointment, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	return scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments a
		SET status = $2::text,
		    updated_at = now(),
		    cancellation_reason = CASE WHEN $2::text = 'CANCELLED' THEN $4 ELSE a.cancellation_reason END,
		    cancelled_at = CASE WHEN $2::text = 'CANCELLED' THEN now() ELSE a.cancelled_at END
		WHERE a.id = $1
		  AND a.status = ANY($3)
		RETURNING `+appointmentColumns, id, string(to), fromStrings, reason))
}

func (r *pgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, provider_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.ProviderID, ev.Payload, nullableTime(ev.CreatedAt))
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

// Repository-only queries

func (r *PgRepository) GetAppointmentByReference(ctx context.Context, ref string) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.booking_reference = $1`, ref))
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.patient_id = $1
		ORDER BY a.date_time DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset))
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.provider_id = $1
		ORDER BY a.date_time DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, providerID, limit, offset))
}

func (r *PgRepository) SearchSlots(ctx context.Context, q SlotQuery) ([]SlotListing, error) {
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	// A rule without location or pricing has NULL columns, which fail every
	// filter on them.
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`, `+ruleColumns+`, `+providerColumns+`
		FROM appointment_slots s
		JOIN availability_rules r ON r.id = s.availability_id
		JOIN providers p ON p.id = s.provider_id
		WHERE s.status = 'AVAILABLE'
		  AND s.start_time >= $1
		  AND s.start_time < $2
		  AND ($3::text = '' OR lower(p.specialization) = lower($3::text))
		  AND ($4::text = '' OR s.appointment_type = $4::text)
		  AND ($5::text = '' OR strpos(lower(r.location_address), lower($5::text)) > 0)
		  AND ($6::text = '' OR r.location_type = $6::text)
		  AND ($7::boolean IS NULL OR r.insurance_accepted = $7::boolean)
		  AND ($8::numeric IS NULL OR r.base_fee <= $8::numeric)
		  AND ($9::text = '' OR r.timezone = $9::text)
		ORDER BY s.start_time, s.id
		LIMIT $10
	`,
		q.From, q.To,
		q.Specialization, string(q.AppointmentType),
		q.Location, string(q.LocationType),
		q.InsuranceAccepted, q.MaxPrice,
		q.Timezone, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotListing
	for rows.Next() {
		var (
			sr slotRow
			rr ruleRow
			pr providerRow
		)
		dest := append(append(sr.dest(), rr.dest()...), pr.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, SlotListing{Slot: sr.s, Rule: rr.value(), Provider: pr.p})
	}
	return result, rows.Err()
}

func (r *PgRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	return collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status = 'PENDING'
		  AND a.created_at < $1
		ORDER BY a.created_at
		LIMIT $2
	`, cutoff, limit))
}
