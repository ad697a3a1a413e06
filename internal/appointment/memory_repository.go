package appointment

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in maps. Transactions are serialized and
// roll back by restoring a snapshot taken when they began.
type MemoryRepository struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	providers    map[uuid.UUID]Provider
	patients     map[uuid.UUID]Patient
	rules        map[uuid.UUID]AvailabilityRule
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers:    make(map[uuid.UUID]Provider),
		patients:     make(map[uuid.UUID]Patient),
		rules:        make(map[uuid.UUID]AvailabilityRule),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (r *MemoryRepository) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

type memorySnapshot struct {
	rules        map[uuid.UUID]AvailabilityRule
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	events       int
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	snap := memorySnapshot{
		rules:        maps.Clone(r.rules),
		slots:        maps.Clone(r.slots),
		appointments: maps.Clone(r.appointments),
		events:       len(r.events),
	}
	r.mu.RUnlock()

	if err := fn(ctx, r); err != nil {
		r.mu.Lock()
		r.rules = snap.rules
		r.slots = snap.slots
		r.appointments = snap.appointments
		r.events = r.events[:snap.events]
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetRuleByID(_ context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &rule, nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByReference(_ context.Context, ref string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.appointments {
		if a.BookingReference == ref {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

// LockSlot only checks existence; WithinTx already serializes transactions.
func (r *MemoryRepository) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *MemoryRepository) LockProvider(context.Context, uuid.UUID) error {
	return nil
}

func (r *MemoryRepository) ListSlotsByProviderAndRange(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Slot
	for _, s := range r.slots {
		if s.ProviderID == providerID && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *MemoryRepository) ListSlotsByRule(_ context.Context, ruleID uuid.UUID) ([]Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Slot
	for _, s := range r.slots {
		if s.AvailabilityID == ruleID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}

func (r *MemoryRepository) CountActiveAppointments(_ context.Context, slotID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.appointments {
		if a.SlotID == slotID && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) FindActiveAppointmentsForPatientAt(_ context.Context, patientID uuid.UUID, at time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status.Active() && a.DateTime.Equal(at) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ReferencesInUse(_ context.Context, refs []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(refs))
	for _, ref := range refs {
		want[ref] = true
	}
	taken := make(map[string]bool)
	for _, s := range r.slots {
		if want[s.BookingReference] {
			taken[s.BookingReference] = true
		}
	}
	for _, a := range r.appointments {
		if want[a.BookingReference] {
			taken[a.BookingReference] = true
		}
	}
	return taken, nil
}

func (r *MemoryRepository) CreateRule(_ context.Context, rule *AvailabilityRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[rule.ProviderID]; !ok {
		return ErrProviderNotFound
	}
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) UpdateRuleNotes(_ context.Context, id uuid.UUID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rule.Notes = notes
	rule.UpdatedAt = time.Now()
	r.rules[id] = rule
	return nil
}

// DeleteRule cascades to the rule's slots like the foreign key does.
func (r *MemoryRepository) DeleteRule(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(r.rules, id)
	for sid, s := range r.slots {
		if s.AvailabilityID == id {
			r.deleteSlotLocked(sid)
		}
	}
	return nil
}

func (r *MemoryRepository) CreateSlots(_ context.Context, slots []Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := make(map[string]bool, len(r.slots))
	for _, s := range r.slots {
		refs[s.BookingReference] = true
	}
	for _, s := range slots {
		if refs[s.BookingReference] {
			return ErrDuplicateReference
		}
		refs[s.BookingReference] = true
	}
	for _, s := range slots {
		r.slots[s.ID] = s
	}
	return nil
}

func (r *MemoryRepository) UpdateSlotTimes(_ context.Context, id uuid.UUID, start, end time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.StartTime, s.EndTime = start, end
	s.UpdatedAt = time.Now()
	r.slots[id] = s
	return nil
}

func (r *MemoryRepository) UpdateSlotStatus(_ context.Context, id uuid.UUID, status SlotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	r.slots[id] = s
	return nil
}

func (r *MemoryRepository) DeleteSlots(_ context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.deleteSlotLocked(id)
	}
	return nil
}

// deleteSlotLocked detaches the slot's appointments like ON DELETE SET NULL.
func (r *MemoryRepository) deleteSlotLocked(id uuid.UUID) {
	delete(r.slots, id)
	for aid, a := range r.appointments {
		if a.SlotID == id {
			a.SlotID = uuid.Nil
			r.appointments[aid] = a
		}
	}
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.BookingReference == appt.BookingReference {
			return ErrDuplicateReference
		}
		if a.PatientID == appt.PatientID && a.Status.Active() && appt.Status.Active() && a.DateTime.Equal(appt.DateTime) {
			return ErrOverlappingAppointment
		}
	}
	r.appointments[appt.ID] = *appt
	return nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || !slices.Contains(from, a.Status) {
		return nil, ErrAppointmentNotFound
	}

	now := time.Now()
	a.Status = to
	a.UpdatedAt = now
	if to == StatusCancelled {
		a.CancellationReason = reason
		a.CancelledAt = &now
	}
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(func(a Appointment) bool { return a.ProviderID == providerID }, limit, offset), nil
}

// listAppointments returns matches newest first, like the SQL listing.
func (r *MemoryRepository) listAppointments(match func(Appointment) bool, limit, offset int) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].DateTime.After(out[j].DateTime)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) SearchSlots(_ context.Context, q SlotQuery) ([]SlotListing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter := q.request()
	var out []SlotListing
	for _, s := range r.slots {
		if s.Status != SlotAvailable || s.StartTime.Before(q.From) || !s.StartTime.Before(q.To) {
			continue
		}
		if q.AppointmentType != "" && s.AppointmentType != q.AppointmentType {
			continue
		}
		provider, ok := r.providers[s.ProviderID]
		if !ok {
			continue
		}
		if q.Specialization != "" && !strings.EqualFold(provider.Specialization, q.Specialization) {
			continue
		}
		rule, ok := r.rules[s.AvailabilityID]
		if !ok {
			continue
		}
		l := SlotListing{Slot: s, Rule: rule, Provider: provider}
		if !filter.Matches(l) {
			continue
		}
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Slot.StartTime.Equal(out[j].Slot.StartTime) {
			return out[i].Slot.StartTime.Before(out[j].Slot.StartTime)
		}
		return out[i].Slot.ID.String() < out[j].Slot.ID.String()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindStalePending(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
