package appointment

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

// Booking references are a readable prefix (ids, date, time) plus a random
// suffix. The suffix makes collisions between entities with the same id
// fragments unlikely, and reserveReferences retries the rare ones.
const (
	referenceSuffixLen = 5
	referenceAttempts  = 5
	referenceAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func idFragment(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

func randomSuffix() string {
	buf := make([]byte, referenceSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return string(buf)
}

// SlotReference renders SLT-<provider>-<yyyymmdd>-<hhmm>-<random>.
func SlotReference(providerID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("SLT-%s-%s-%s-%s",
		idFragment(providerID), start.Format("20060102"), timewindow.ClockOf(start).Compact(), randomSuffix())
}

// AppointmentReference renders APT-<provider>-<patient>-<yyyymmdd>-<hhmm>-<random>.
func AppointmentReference(providerID, patientID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("APT-%s-%s-%s-%s-%s",
		idFragment(providerID), idFragment(patientID), at.Format("20060102"), timewindow.ClockOf(at).Compact(), randomSuffix())
}

// reserveReferences fills refs[i] = build(i) and regenerates any entry that is
// duplicated within the batch or already stored.
func reserveReferences(ctx context.Context, store Store, n int, build func(i int) string) ([]string, error) {
	refs := make([]string, n)
	pending := make([]int, n)
	for i := range pending {
		pending[i] = i
	}

	seen := make(map[string]bool, n)
	for attempt := 0; attempt < referenceAttempts && len(pending) > 0; attempt++ {
		candidates := make([]string, 0, len(pending))
		for _, i := range pending {
			refs[i] = build(i)
			candidates = append(candidates, refs[i])
		}

		taken, err := store.ReferencesInUse(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("check booking references: %w", err)
		}

		retry := pending[:0]
		for _, i := range pending {
			if taken[refs[i]] || seen[refs[i]] {
				retry = append(retry, i)
				continue
			}
			seen[refs[i]] = true
		}
		pending = retry
	}

	if len(pending) > 0 {
		return nil, apperrors.Internal("could not generate unique booking references", nil)
	}
	return refs, nil
}
