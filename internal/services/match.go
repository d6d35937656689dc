package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/geocoding"
	"github.com/dadmatch/dadmatch/internal/matchqueue"
	"github.com/dadmatch/dadmatch/internal/notification"
	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// Geocoder resolves a city name to coordinates. Satisfied by
// geocoding.Service and geocoding.CachedService; faked in tests.
type Geocoder interface {
	GeocodeCity(ctx context.Context, city string) (*geocoding.Location, error)
}

// Caps on downstream work per availability change.
const (
	// NewMatchNotifyCap limits alerts to the best few new matches so one
	// schedule change cannot spam a neighborhood.
	NewMatchNotifyCap = 3

	// PeerRecalcCap bounds the one-hop recalculation fan-out.
	PeerRecalcCap = 10
)

// MatchCandidate is a scored candidate before persistence.
type MatchCandidate struct {
	User        database.User        `json:"user"`
	SharedSlots database.SharedSlots `json:"shared_slots"`
	Score       int                  `json:"score"`
	DistanceKm  float64              `json:"distance_km"`
}

// MatchWithUser joins a stored match row with the matched user's profile.
type MatchWithUser struct {
	Match       database.AvailabilityMatch `json:"match"`
	MatchedUser database.User              `json:"matched_user"`
}

// MatchService computes and stores availability matches.
type MatchService struct {
	db       *database.DB
	geo      Geocoder
	notifier notification.Dispatcher
	queue    matchqueue.Queue // nil means inline fan-out

	rowsWritten metric.Int64Counter
}

// NewMatchService creates a match service. queue may be nil, in which case
// peer recalculation runs inline instead of through the job queue.
func NewMatchService(db *database.DB, geo Geocoder, notifier notification.Dispatcher, queue matchqueue.Queue) *MatchService {
	meter := otel.Meter("github.com/dadmatch/dadmatch/internal/services")
	rowsWritten, err := meter.Int64Counter("dadmatch.match_rows_written",
		metric.WithDescription("Match rows written by full recalculations"))
	if err != nil {
		telemetry.GetGlobalLogger().WithError(err).Warn("Failed to create match counter")
	}

	return &MatchService{
		db:          db,
		geo:         geo,
		notifier:    notifier,
		queue:       queue,
		rowsWritten: rowsWritten,
	}
}

// FindCandidates produces the ranked candidate list for a user. Missing
// city, empty schedule, or an unresolvable city degrade to an empty result.
func (s *MatchService) FindCandidates(ctx context.Context, userID string) ([]MatchCandidate, error) {
	_, candidates, err := s.findCandidates(ctx, userID)
	return candidates, err
}

func (s *MatchService) findCandidates(ctx context.Context, userID string) (*database.User, []MatchCandidate, error) {
	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || user.City == "" {
		return user, nil, nil
	}

	slots, err := s.loadActiveSlots(ctx, userID)
	if err != nil {
		return user, nil, err
	}
	if len(slots) == 0 {
		return user, nil, nil
	}

	prefs, err := s.loadPreferences(ctx, userID)
	if err != nil {
		return user, nil, err
	}
	if !prefs.Enabled {
		return user, nil, nil
	}

	origin, err := s.geo.GeocodeCity(ctx, user.City)
	if err != nil {
		logger.WithError(err).WithField("city", user.City).Warn("Geocoding failed, skipping match search")
		return user, nil, nil
	}
	if origin == nil {
		return user, nil, nil
	}

	candidateIDs, err := s.findOverlappingUserIDs(ctx, userID, slots, 0)
	if err != nil {
		return user, nil, err
	}
	if len(candidateIDs) == 0 {
		return user, nil, nil
	}

	profiles, err := s.loadRegularUsers(ctx, candidateIDs)
	if err != nil {
		return user, nil, err
	}

	slotsByUser, err := s.loadActiveSlotsForUsers(ctx, candidateIDs)
	if err != nil {
		return user, nil, err
	}

	var candidates []MatchCandidate
	for _, cand := range profiles {
		// loadRegularUsers already filters on role; re-check so a widened
		// query can never leak an admin into the results.
		if !cand.IsRegular() {
			continue
		}

		loc, err := s.geo.GeocodeCity(ctx, cand.City)
		if err != nil || loc == nil {
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"candidate_id": cand.ID,
					"city":         cand.City,
				}).Debug("Candidate geocoding failed, skipping")
			}
			continue
		}

		distance := geocoding.Distance(origin.Latitude, origin.Longitude, loc.Latitude, loc.Longitude)
		if distance > prefs.MaxDistanceKm {
			continue
		}

		// The coarse query only guarantees at least one overlapping pair;
		// recompute the exact intersection here.
		shared := SharedSlotIntersection(slots, slotsByUser[cand.ID])
		if len(shared) == 0 {
			continue
		}

		compat := ChildrenCompatibility(user.Children, cand.Children, prefs.AgeFlexibilityYears)
		score := CalculateMatchScore(len(shared), distance, prefs.MaxDistanceKm, compat)

		candidates = append(candidates, MatchCandidate{
			User:        cand,
			SharedSlots: shared,
			Score:       score,
			DistanceKm:  distance,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return user, candidates, nil
}

// CalculateMatches fully replaces the user's stored match rows with freshly
// scored candidates, then alerts the best few genuinely new matches.
// Returns the number of rows written.
func (s *MatchService) CalculateMatches(ctx context.Context, userID string) (int, error) {
	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	user, candidates, err := s.findCandidates(ctx, userID)
	if err != nil {
		return 0, err
	}

	previous, err := s.loadMatchedUserIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	written := 0
	writtenSet := make(map[string]bool, len(candidates))

	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_matches WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear previous matches: %w", err)
		}

		for _, cand := range candidates {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO availability_matches (id, user_id, matched_user_id, shared_slots, score, distance_km, calculated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (user_id, matched_user_id) DO NOTHING
			`, uuid.New().String(), userID, cand.User.ID, cand.SharedSlots, cand.Score,
				fmt.Sprintf("%.1f", cand.DistanceKm), now)
			if err != nil {
				return fmt.Errorf("failed to insert match row for %s: %w", cand.User.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				written++
				writtenSet[cand.User.ID] = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE match_preferences SET last_run_at = $2 WHERE user_id = $1`, userID, now); err != nil {
		logger.WithError(err).Debug("Failed to stamp last match run")
	}

	if s.rowsWritten != nil {
		s.rowsWritten.Add(ctx, int64(written))
	}

	// Alert only matches that were not present before this run. Candidates
	// arrive score-descending, so the first few are the best ones.
	if user != nil {
		notified := 0
		for _, cand := range candidates {
			if notified >= NewMatchNotifyCap {
				break
			}
			if !writtenSet[cand.User.ID] || previous[cand.User.ID] {
				continue
			}
			s.notifier.MatchFound(ctx, notification.MatchAlert{
				FromUserID:  userID,
				ToUserID:    cand.User.ID,
				FromName:    user.Name,
				SharedSlots: cand.SharedSlots,
				Score:       cand.Score,
				DistanceKm:  fmt.Sprintf("%.1f", cand.DistanceKm),
			})
			notified++
		}
	}

	logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"written":    written,
	}).Info("Availability matches recalculated")

	return written, nil
}

// RecalculateForAffectedPeers refreshes stored matches for users whose slots
// overlap the changed user's current schedule, bounded to PeerRecalcCap.
// Jobs go through the queue when one is configured; each peer failure is
// isolated. The cascade is one hop: peer recalculations never fan out again.
func (s *MatchService) RecalculateForAffectedPeers(ctx context.Context, userID string) error {
	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	slots, err := s.loadActiveSlots(ctx, userID)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}

	peerIDs, err := s.findOverlappingUserIDs(ctx, userID, slots, PeerRecalcCap)
	if err != nil {
		return err
	}

	for _, peerID := range peerIDs {
		if s.queue != nil {
			if err := s.queue.Enqueue(ctx, peerID); err != nil {
				logger.WithError(err).WithField("peer_id", peerID).Warn("Failed to queue peer recalculation")
			}
			continue
		}

		if _, err := s.CalculateMatches(ctx, peerID); err != nil {
			logger.WithError(err).WithField("peer_id", peerID).Warn("Peer recalculation failed")
		}
	}

	if s.queue != nil && len(peerIDs) > 0 {
		if depth, err := s.queue.Pending(ctx); err == nil {
			logger.WithFields(logrus.Fields{
				"enqueued": len(peerIDs),
				"pending":  depth,
			}).Debug("Peer recalculations queued")
		}
	}

	return nil
}

// GetMatches returns the user's stored matches joined with the matched
// profiles, best score first.
func (s *MatchService) GetMatches(ctx context.Context, userID string) ([]MatchWithUser, error) {
	return s.queryMatches(ctx, userID, nil)
}

// GetMatchesForSlot filters stored matches to those sharing one specific
// (day, slot) pair.
func (s *MatchService) GetMatchesForSlot(ctx context.Context, userID string, dayOfWeek int, slot database.TimeSlot) ([]MatchWithUser, error) {
	if err := validateSlotRef(dayOfWeek, slot); err != nil {
		return nil, err
	}
	filter := database.SharedSlots{{DayOfWeek: dayOfWeek, TimeSlot: slot}}
	return s.queryMatches(ctx, userID, filter)
}

func (s *MatchService) queryMatches(ctx context.Context, userID string, slotFilter database.SharedSlots) ([]MatchWithUser, error) {
	query := `
		SELECT m.id, m.user_id, m.matched_user_id, m.shared_slots, m.score, m.distance_km, m.calculated_at,
		       u.id, u.name, u.city, u.role, u.children, u.created_at, u.updated_at
		FROM availability_matches m
		JOIN users u ON u.id = m.matched_user_id
		WHERE m.user_id = $1
	`
	args := []interface{}{userID}

	if slotFilter != nil {
		filterJSON, err := slotFilter.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to encode slot filter: %w", err)
		}
		query += ` AND m.shared_slots @> $2`
		args = append(args, filterJSON)
	}

	query += ` ORDER BY m.score DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var matches []MatchWithUser
	for rows.Next() {
		var mw MatchWithUser
		err := rows.Scan(
			&mw.Match.ID, &mw.Match.UserID, &mw.Match.MatchedUserID, &mw.Match.SharedSlots,
			&mw.Match.Score, &mw.Match.DistanceKm, &mw.Match.CalculatedAt,
			&mw.MatchedUser.ID, &mw.MatchedUser.Name, &mw.MatchedUser.City, &mw.MatchedUser.Role,
			&mw.MatchedUser.Children, &mw.MatchedUser.CreatedAt, &mw.MatchedUser.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, mw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}

	return matches, nil
}

// --- row loading helpers ---

func (s *MatchService) loadUser(ctx context.Context, userID string) (*database.User, error) {
	var u database.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, city, role, children, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.City, &u.Role, &u.Children, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return &u, nil
}

func (s *MatchService) loadActiveSlots(ctx context.Context, userID string) ([]database.AvailabilitySlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at
		FROM availability_slots
		WHERE user_id = $1 AND is_active = true
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load slots for %s: %w", userID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanSlots(rows)
}

func (s *MatchService) loadActiveSlotsForUsers(ctx context.Context, userIDs []string) (map[string][]database.AvailabilitySlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at
		FROM availability_slots
		WHERE user_id = ANY($1) AND is_active = true
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate slots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]database.AvailabilitySlot)
	for _, slot := range slots {
		byUser[slot.UserID] = append(byUser[slot.UserID], slot)
	}
	return byUser, nil
}

func scanSlots(rows *sql.Rows) ([]database.AvailabilitySlot, error) {
	var slots []database.AvailabilitySlot
	for rows.Next() {
		var s database.AvailabilitySlot
		err := rows.Scan(&s.ID, &s.UserID, &s.DayOfWeek, &s.TimeSlot, &s.Recurrence,
			&s.IsActive, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot row: %w", err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot rows: %w", err)
	}
	return slots, nil
}

func (s *MatchService) loadPreferences(ctx context.Context, userID string) (database.MatchPreferences, error) {
	var p database.MatchPreferences
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, max_distance_km, age_flexibility_years, enabled, last_run_at
		FROM match_preferences WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.MaxDistanceKm, &p.AgeFlexibilityYears, &p.Enabled, &p.LastRunAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.DefaultMatchPreferences(userID), nil
		}
		return p, fmt.Errorf("failed to load match preferences for %s: %w", userID, err)
	}
	return p, nil
}

// findOverlappingUserIDs returns ids of other users with at least one active
// slot matching any of the given (day, slot) pairs. limit <= 0 means no cap.
func (s *MatchService) findOverlappingUserIDs(ctx context.Context, userID string, slots []database.AvailabilitySlot, limit int) ([]string, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	var conds []string
	args := []interface{}{userID}
	argID := 2
	for _, slot := range slots {
		conds = append(conds, fmt.Sprintf("(day_of_week = $%d AND time_slot = $%d)", argID, argID+1))
		args = append(args, slot.DayOfWeek, string(slot.TimeSlot))
		argID += 2
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT user_id FROM availability_slots
		WHERE is_active = true AND user_id != $1 AND (%s)
	`, strings.Join(conds, " OR "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping users: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}
	return ids, nil
}

func (s *MatchService) loadRegularUsers(ctx context.Context, userIDs []string) ([]database.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, city, role, children, created_at, updated_at
		FROM users
		WHERE id = ANY($1) AND role IS NULL
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate profiles: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var users []database.User
	for rows.Next() {
		var u database.User
		err := rows.Scan(&u.ID, &u.Name, &u.City, &u.Role, &u.Children, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

func (s *MatchService) loadMatchedUserIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT matched_user_id FROM availability_matches WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing matches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan matched user id: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matched user ids: %w", err)
	}
	return ids, nil
}

// ErrInvalidInput marks validation failures so the HTTP layer can map them
// to a 400 instead of a 500.
var ErrInvalidInput = errors.New("invalid input")

func validateSlotRef(dayOfWeek int, slot database.TimeSlot) error {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week must be 0..6, got %d", ErrInvalidInput, dayOfWeek)
	}
	if !slot.Valid() {
		return fmt.Errorf("%w: unknown time_slot %q", ErrInvalidInput, slot)
	}
	return nil
}
