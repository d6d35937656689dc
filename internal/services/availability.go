package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/notification"
	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// SlotEntry is one submitted weekly slot.
type SlotEntry struct {
	DayOfWeek int               `json:"day_of_week"`
	TimeSlot  database.TimeSlot `json:"time_slot"`
	Notes     *string           `json:"notes,omitempty"`
}

// SubmitResult is returned from a full availability submission.
type SubmitResult struct {
	Success      bool `json:"success"`
	MatchesCount int  `json:"matches_count"`
}

// AvailabilityService manages weekly availability schedules and drives the
// downstream match recalculation.
type AvailabilityService struct {
	db       *database.DB
	matches  *MatchService
	notifier notification.Dispatcher
}

// NewAvailabilityService creates an availability service.
func NewAvailabilityService(db *database.DB, matches *MatchService, notifier notification.Dispatcher) *AvailabilityService {
	return &AvailabilityService{
		db:       db,
		matches:  matches,
		notifier: notifier,
	}
}

// SetUserAvailability replaces the user's entire schedule, recalculates
// their matches, fans recalculation out to affected peers and confirms the
// new schedule. An empty entries list is valid and clears availability.
//
// The slot replace is transactional; the downstream match calculation is
// best-effort and may leave matches stale if it fails after the slots were
// written.
func (s *AvailabilityService) SetUserAvailability(ctx context.Context, userID string, entries []SlotEntry) (*SubmitResult, error) {
	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	entries, err := normalizeEntries(entries)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_slots WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear availability: %w", err)
		}

		for _, e := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO availability_slots (id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'weekly', true, $5, $6, $6)
			`, uuid.New().String(), userID, e.DayOfWeek, string(e.TimeSlot), e.Notes, now)
			if err != nil {
				return fmt.Errorf("failed to insert slot (%d, %s): %w", e.DayOfWeek, e.TimeSlot, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	matchesCount, err := s.matches.CalculateMatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("availability saved but match calculation failed: %w", err)
	}

	if err := s.matches.RecalculateForAffectedPeers(ctx, userID); err != nil {
		// Peer rows go stale until their next recalculation; the user's own
		// submission still succeeded.
		logger.WithError(err).Warn("Peer fan-out failed")
	}

	if len(entries) > 0 {
		s.notifier.ScheduleConfirmed(ctx, userID, len(entries))
	}

	logger.WithFields(logrus.Fields{
		"slots":   len(entries),
		"matches": matchesCount,
	}).Info("Availability updated")

	return &SubmitResult{Success: true, MatchesCount: matchesCount}, nil
}

// GetUserAvailability returns the user's active slots ordered by day, then
// slot within the day.
func (s *AvailabilityService) GetUserAvailability(ctx context.Context, userID string) ([]database.AvailabilitySlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at
		FROM availability_slots
		WHERE user_id = $1 AND is_active = true
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, err
	}
	sortSchedule(slots)
	return slots, nil
}

// sortSchedule orders slots by day, then time of day within the day.
func sortSchedule(slots []database.AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].TimeSlot.Rank() < slots[j].TimeSlot.Rank()
	})
}

// ToggleAvailabilitySlot flips one (day, slot) row's active flag, creating
// an active row when none exists. Returns the new state.
//
// Toggling deliberately does not recalculate matches; only a full
// resubmission does. The UI treats toggles as cheap interactions and
// accepts staleness until the next full submit.
func (s *AvailabilityService) ToggleAvailabilitySlot(ctx context.Context, userID string, dayOfWeek int, slot database.TimeSlot) (bool, error) {
	if err := validateSlotRef(dayOfWeek, slot); err != nil {
		return false, err
	}

	now := time.Now()

	var id string
	var isActive bool
	err := s.db.QueryRowContext(ctx, `
		SELECT id, is_active FROM availability_slots
		WHERE user_id = $1 AND day_of_week = $2 AND time_slot = $3
	`, userID, dayOfWeek, string(slot)).Scan(&id, &isActive)

	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO availability_slots (id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'weekly', true, NULL, $5, $5)
		`, uuid.New().String(), userID, dayOfWeek, string(slot), now)
		if err != nil {
			return false, fmt.Errorf("failed to create slot (%d, %s): %w", dayOfWeek, slot, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load slot (%d, %s): %w", dayOfWeek, slot, err)
	}

	newState := !isActive
	_, err = s.db.ExecContext(ctx,
		`UPDATE availability_slots SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, newState, now)
	if err != nil {
		return false, fmt.Errorf("failed to toggle slot (%d, %s): %w", dayOfWeek, slot, err)
	}

	return newState, nil
}

// normalizeEntries validates all entries and drops duplicate (day, slot)
// pairs, keeping the first occurrence.
func normalizeEntries(entries []SlotEntry) ([]SlotEntry, error) {
	type key struct {
		day  int
		slot database.TimeSlot
	}

	seen := make(map[key]bool, len(entries))
	out := make([]SlotEntry, 0, len(entries))

	for _, e := range entries {
		if err := validateSlotRef(e.DayOfWeek, e.TimeSlot); err != nil {
			return nil, err
		}
		k := key{e.DayOfWeek, e.TimeSlot}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out, nil
}
