package services

import (
	"math"

	"github.com/dadmatch/dadmatch/internal/database"
)

// Weights for the availability match score. The four components sum to at
// most 100: slots 40, distance 30, children 20, activity bonus 10.
const (
	SlotPoints        = 10 // per shared slot
	SlotPointsMax     = 40 // saturates at 4 shared slots
	DistancePoints    = 30 // at distance zero, linear falloff to maxDistance
	ChildPoints       = 5  // per compatible child pair
	ChildPointsMax    = 20 // saturates at 4 compatible pairs
	ActivityPoints    = 2  // per shared slot, again
	ActivityPointsMax = 10 // saturates at 5 shared slots
)

// CalculateMatchScore combines shared-slot count, distance and children age
// compatibility into a 0-100 score. Components are summed unrounded; the
// total is rounded once.
//
// Note that sharedSlotsCount feeds both the slots component and the activity
// bonus. That double-counting is intentional: users with many open slots
// should outrank equally-near users with fewer, even past the slots cap.
func CalculateMatchScore(sharedSlotsCount int, distanceKm, maxDistanceKm float64, childrenCompatibility int) int {
	slots := math.Min(float64(sharedSlotsCount*SlotPoints), SlotPointsMax)

	// Candidates past maxDistance are excluded upstream; the clamp guards
	// direct callers.
	distance := 0.0
	if maxDistanceKm > 0 {
		distance = math.Max(0, (maxDistanceKm-distanceKm)/maxDistanceKm*DistancePoints)
	}

	children := math.Min(float64(childrenCompatibility*ChildPoints), ChildPointsMax)
	activity := math.Min(float64(sharedSlotsCount*ActivityPoints), ActivityPointsMax)

	return int(math.Round(slots + distance + children + activity))
}

// SharedSlotIntersection returns the exact (day, slot) pairs active in both
// slot sets, in the order they appear in mine.
func SharedSlotIntersection(mine, theirs []database.AvailabilitySlot) database.SharedSlots {
	type key struct {
		day  int
		slot database.TimeSlot
	}

	theirSet := make(map[key]bool, len(theirs))
	for _, s := range theirs {
		if s.IsActive {
			theirSet[key{s.DayOfWeek, s.TimeSlot}] = true
		}
	}

	var shared database.SharedSlots
	for _, s := range mine {
		if s.IsActive && theirSet[key{s.DayOfWeek, s.TimeSlot}] {
			shared = append(shared, database.SharedSlot{DayOfWeek: s.DayOfWeek, TimeSlot: s.TimeSlot})
		}
	}
	return shared
}

// ChildrenCompatibility counts child pairs across the full cross product
// whose age difference is within ageFlexibility years. Pairs are not
// deduplicated: one child may count against several children on the other
// side.
func ChildrenCompatibility(mine, theirs database.ChildrenInfo, ageFlexibilityYears int) int {
	count := 0
	for _, a := range mine {
		for _, b := range theirs {
			diff := a.Age - b.Age
			if diff < 0 {
				diff = -diff
			}
			if diff <= ageFlexibilityYears {
				count++
			}
		}
	}
	return count
}
