package appointment

import (
	"context"
	"errors"
	"fmt"
)

const (
	ExpiredReason   = "expired"
	expiryBatchSize = 100
)

// ExpirePendingAppointments cancels PENDING appointments older than the
// configured pending TTL and frees their slots. It is called periodically by
// the expiry worker and returns how many appointments it expired.
func (s *Service) ExpirePendingAppointments(ctx context.Context) (int, error) {
	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.cfg.PendingTTL)
	stale, err := s.repo.FindStalePending(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	expired := 0
	for i := range stale {
		appt := &stale[i]

		_, err := s.cancelInSlot(ctx, appt, ExpiredReason, EventAppointmentExpired, map[string]any{
			"reason": "worker",
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrAppointmentNotFound):
			// confirmed or cancelled since the scan
		case ctx.Err() != nil:
			return expired, ctx.Err()
		default:
			s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
		}
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Time("cutoff", cutoff).Msg("expired pending appointments")
	}
	return expired, nil
}
