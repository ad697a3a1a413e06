package appointment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	EventAvailabilityCreated  = "AVAILABILITY_CREATED"
	EventSlotUpdated          = "SLOT_UPDATED"
	EventSlotBlocked          = "SLOT_BLOCKED"
	EventSlotDeleted          = "SLOT_DELETED"
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
)

// eventRefs names the entities an event is about. Zero ids are stored as NULL.
type eventRefs struct {
	appointment uuid.UUID
	slot        uuid.UUID
	provider    uuid.UUID
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// recordEvent writes to the event log inside tx, so the entry commits or
// rolls back with the change it describes.
func (s *Service) recordEvent(ctx context.Context, tx Store, eventType string, refs eventRefs, payload map[string]any) error {
	var data []byte
	if len(payload) > 0 {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: optionalID(refs.appointment),
		SlotID:        optionalID(refs.slot),
		ProviderID:    optionalID(refs.provider),
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}
