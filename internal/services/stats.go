package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/geocoding"
	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// StatisticsRadiusKm is the fixed radius for slot statistics. It is
// independent of the user's own match-distance preference.
const StatisticsRadiusKm = 20.0

// NewJoinerWindow is how far back "new this week" looks.
const NewJoinerWindow = 7 * 24 * time.Hour

// SlotStatistics describes how busy one (day, slot) is around the user.
type SlotStatistics struct {
	AvailableDadsCount int     `json:"available_dads_count"`
	AverageDistanceKm  float64 `json:"average_distance_km"`
	NewThisWeek        int     `json:"new_this_week"`
	PopularityRank     int     `json:"popularity_rank"` // 1 = most popular tier
	Message            string  `json:"message"`
}

// GetSlotStatistics counts other users with the given slot active within
// StatisticsRadiusKm of the user, with a popularity tier and an
// encouragement message. Unresolvable locations degrade to empty stats.
func (s *MatchService) GetSlotStatistics(ctx context.Context, userID string, dayOfWeek int, slot database.TimeSlot) (*SlotStatistics, error) {
	if err := validateSlotRef(dayOfWeek, slot); err != nil {
		return nil, err
	}

	logger := telemetry.LogFromContext(ctx).WithField("user_id", userID)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.City == "" {
		return emptySlotStatistics(), nil
	}

	origin, err := s.geo.GeocodeCity(ctx, user.City)
	if err != nil {
		logger.WithError(err).WithField("city", user.City).Warn("Geocoding failed for slot statistics")
		return emptySlotStatistics(), nil
	}
	if origin == nil {
		return emptySlotStatistics(), nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.city, u.created_at
		FROM availability_slots s
		JOIN users u ON u.id = s.user_id
		WHERE s.user_id != $1 AND s.day_of_week = $2 AND s.time_slot = $3 AND s.is_active = true
	`, userID, dayOfWeek, string(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to query slot holders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	type holder struct {
		id        string
		city      string
		createdAt time.Time
	}
	var holders []holder
	for rows.Next() {
		var h holder
		if err := rows.Scan(&h.id, &h.city, &h.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot holder: %w", err)
		}
		holders = append(holders, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot holders: %w", err)
	}

	count := 0
	newThisWeek := 0
	totalDistance := 0.0
	weekAgo := time.Now().Add(-NewJoinerWindow)

	for _, h := range holders {
		loc, err := s.geo.GeocodeCity(ctx, h.city)
		if err != nil || loc == nil {
			continue
		}
		distance := geocoding.Distance(origin.Latitude, origin.Longitude, loc.Latitude, loc.Longitude)
		if distance > StatisticsRadiusKm {
			continue
		}

		count++
		totalDistance += distance
		if h.createdAt.After(weekAgo) {
			newThisWeek++
		}
	}

	avg := 0.0
	if count > 0 {
		avg = math.Round(totalDistance/float64(count)*10) / 10
	}

	return &SlotStatistics{
		AvailableDadsCount: count,
		AverageDistanceKm:  avg,
		NewThisWeek:        newThisWeek,
		PopularityRank:     popularityRank(count),
		Message:            popularityMessage(count),
	}, nil
}

func emptySlotStatistics() *SlotStatistics {
	return &SlotStatistics{
		PopularityRank: popularityRank(0),
		Message:        popularityMessage(0),
	}
}

func popularityRank(count int) int {
	switch {
	case count > 10:
		return 1
	case count >= 5:
		return 2
	default:
		return 3
	}
}

func popularityMessage(count int) string {
	switch {
	case count == 0:
		return "Be the first dad available in this slot!"
	case count >= 10:
		return "This slot is very popular with dads near you."
	case count >= 5:
		return "This slot is growing in popularity."
	default:
		return "A few dads near you are free in this slot."
	}
}
