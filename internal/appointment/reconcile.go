package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ReconcileStatus derives a slot's status from its active appointment count.
// BLOCKED and CANCELLED are provider decisions and are returned unchanged.
func ReconcileStatus(current SlotStatus, active, maxPerSlot int) SlotStatus {
	switch current {
	case SlotBlocked, SlotCancelled:
		return current
	}
	if active >= maxPerSlot {
		return SlotBooked
	}
	return SlotAvailable
}

// reconcileSlot recomputes and persists the slot's status. It must run in the
// same transaction as the change that affected the count.
func reconcileSlot(ctx context.Context, tx Store, slotID uuid.UUID) (SlotStatus, error) {
	slot, err := tx.GetSlotByID(ctx, slotID)
	if err != nil {
		return "", err
	}
	rule, err := tx.GetRuleByID(ctx, slot.AvailabilityID)
	if err != nil {
		return "", fmt.Errorf("load availability for slot %s: %w", slotID, err)
	}
	active, err := tx.CountActiveAppointments(ctx, slotID)
	if err != nil {
		return "", fmt.Errorf("count active appointments: %w", err)
	}

	next := ReconcileStatus(slot.Status, active, rule.MaxAppointmentsPerSlot)
	if next == slot.Status {
		return next, nil
	}
	if err := tx.UpdateSlotStatus(ctx, slotID, next); err != nil {
		return "", fmt.Errorf("update slot status: %w", err)
	}
	return next, nil
}
