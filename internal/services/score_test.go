package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dadmatch/dadmatch/internal/database"
)

func TestCalculateMatchScore(t *testing.T) {
	tests := []struct {
		name        string
		sharedSlots int
		distanceKm  float64
		maxDistance float64
		children    int
		expected    int
	}{
		{
			name:        "one slot same city one child",
			sharedSlots: 1,
			distanceKm:  0,
			maxDistance: 20,
			children:    1,
			expected:    47, // 10 slots + 30 distance + 5 children + 2 bonus
		},
		{
			name:        "all components saturated",
			sharedSlots: 6,
			distanceKm:  0,
			maxDistance: 20,
			children:    5,
			expected:    100,
		},
		{
			name:        "nothing in common",
			sharedSlots: 0,
			distanceKm:  20,
			maxDistance: 20,
			children:    0,
			expected:    0,
		},
		{
			name:        "halfway distance",
			sharedSlots: 1,
			distanceKm:  10,
			maxDistance: 20,
			children:    0,
			expected:    27, // 10 + 15 + 0 + 2
		},
		{
			name:        "distance beyond max clamps to zero",
			sharedSlots: 2,
			distanceKm:  35,
			maxDistance: 20,
			children:    0,
			expected:    24, // 20 + 0 + 0 + 4
		},
		{
			name:        "zero max distance skips distance component",
			sharedSlots: 1,
			distanceKm:  5,
			maxDistance: 0,
			children:    0,
			expected:    12,
		},
		{
			name:        "fractional sum rounds once",
			sharedSlots: 1,
			distanceKm:  7,
			maxDistance: 20,
			children:    0,
			expected:    32, // 10 + 19.5 + 0 + 2 = 31.5
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := CalculateMatchScore(tt.sharedSlots, tt.distanceKm, tt.maxDistance, tt.children)
			assert.Equal(t, tt.expected, score)
		})
	}
}

func TestCalculateMatchScoreBounds(t *testing.T) {
	for slots := 0; slots <= 8; slots++ {
		for children := 0; children <= 8; children++ {
			score := CalculateMatchScore(slots, 0, 20, children)
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		}
	}
}

func TestCalculateMatchScoreActivityBonusBreaksTies(t *testing.T) {
	// Both candidates max out the slots component, but the one with more
	// shared slots still scores higher through the activity bonus.
	four := CalculateMatchScore(4, 5, 20, 0)
	five := CalculateMatchScore(5, 5, 20, 0)
	assert.Greater(t, five, four)
}

func TestSharedSlotIntersection(t *testing.T) {
	mine := []database.AvailabilitySlot{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning, IsActive: true},
		{DayOfWeek: 0, TimeSlot: database.SlotAfternoon, IsActive: true},
		{DayOfWeek: 3, TimeSlot: database.SlotEvening, IsActive: true},
	}
	theirs := []database.AvailabilitySlot{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning, IsActive: true},
		{DayOfWeek: 3, TimeSlot: database.SlotEvening, IsActive: false},
		{DayOfWeek: 0, TimeSlot: database.SlotAfternoon, IsActive: true},
		{DayOfWeek: 5, TimeSlot: database.SlotAllDay, IsActive: true},
	}

	shared := SharedSlotIntersection(mine, theirs)

	// Order follows mine; the inactive Wednesday slot does not count.
	assert.Equal(t, database.SharedSlots{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning},
		{DayOfWeek: 0, TimeSlot: database.SlotAfternoon},
	}, shared)
}

func TestSharedSlotIntersectionEmpty(t *testing.T) {
	mine := []database.AvailabilitySlot{
		{DayOfWeek: 1, TimeSlot: database.SlotMorning, IsActive: true},
	}

	assert.Empty(t, SharedSlotIntersection(mine, nil))
	assert.Empty(t, SharedSlotIntersection(nil, mine))
}

func TestSharedSlotIntersectionMatchesExactSlot(t *testing.T) {
	mine := []database.AvailabilitySlot{
		{DayOfWeek: 2, TimeSlot: database.SlotMorning, IsActive: true},
	}
	theirs := []database.AvailabilitySlot{
		{DayOfWeek: 2, TimeSlot: database.SlotAllDay, IsActive: true},
	}

	// allday does not subsume morning; only identical buckets overlap.
	assert.Empty(t, SharedSlotIntersection(mine, theirs))
}

func TestChildrenCompatibility(t *testing.T) {
	mine := database.ChildrenInfo{
		{Name: "Finn", Age: 4},
		{Name: "Mila", Age: 9},
	}
	theirs := database.ChildrenInfo{
		{Name: "Sam", Age: 5},
		{Name: "Noor", Age: 6},
	}

	// Finn(4) pairs with Sam(5) and Noor(6); Mila(9) pairs with nobody.
	assert.Equal(t, 2, ChildrenCompatibility(mine, theirs, 2))

	// With flexibility 3 Mila(9) also pairs with Noor(6).
	assert.Equal(t, 3, ChildrenCompatibility(mine, theirs, 3))

	assert.Equal(t, 0, ChildrenCompatibility(mine, nil, 2))
	assert.Equal(t, 0, ChildrenCompatibility(nil, theirs, 2))
}

func TestChildrenCompatibilityCountsFullCrossProduct(t *testing.T) {
	mine := database.ChildrenInfo{{Name: "A", Age: 5}}
	theirs := database.ChildrenInfo{
		{Name: "B", Age: 4},
		{Name: "C", Age: 5},
		{Name: "D", Age: 6},
	}

	// One child on my side pairs with each of the three on the other side.
	assert.Equal(t, 3, ChildrenCompatibility(mine, theirs, 2))
}
