package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

// CheckConflicts rejects a proposed window if, on any of dates, it overlaps
// or touches an existing slot of the provider. Touching endpoints count as
// overlap here: a window starting exactly when an existing slot ends is
// rejected.
func CheckConflicts(ctx context.Context, store Store, providerID uuid.UUID, dates []time.Time, proposed timewindow.Window) error {
	if len(dates) == 0 {
		return nil
	}

	from := recurrence.Day(dates[0])
	to := recurrence.Day(dates[len(dates)-1]).AddDate(0, 0, 1)
	existing, err := store.ListSlotsByProviderAndRange(ctx, providerID, from, to)
	if err != nil {
		return fmt.Errorf("load existing slots: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}

	byDate := make(map[string][]Slot)
	for _, s := range existing {
		key := s.Date().Format(time.DateOnly)
		byDate[key] = append(byDate[key], s)
	}

	for _, d := range dates {
		for _, s := range byDate[d.Format(time.DateOnly)] {
			if proposed.OverlapsInclusive(s.Window()) {
				return apperrors.Conflict(fmt.Sprintf(
					"availability %s on %s conflicts with existing slot %s",
					proposed, d.Format(time.DateOnly), s.Window()))
			}
		}
	}
	return nil
}
