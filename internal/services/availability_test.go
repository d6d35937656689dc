package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dadmatch/dadmatch/internal/database"
)

func TestNormalizeEntries(t *testing.T) {
	entries := []SlotEntry{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning},
		{DayOfWeek: 0, TimeSlot: database.SlotAfternoon},
		{DayOfWeek: 6, TimeSlot: database.SlotMorning}, // duplicate
		{DayOfWeek: 6, TimeSlot: database.SlotEvening},
	}

	out, err := normalizeEntries(entries)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, entries[0], out[0])
	assert.Equal(t, entries[1], out[1])
	assert.Equal(t, entries[3], out[2])
}

func TestNormalizeEntriesEmpty(t *testing.T) {
	out, err := normalizeEntries(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNormalizeEntriesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		entry SlotEntry
	}{
		{"day too low", SlotEntry{DayOfWeek: -1, TimeSlot: database.SlotMorning}},
		{"day too high", SlotEntry{DayOfWeek: 7, TimeSlot: database.SlotMorning}},
		{"unknown slot", SlotEntry{DayOfWeek: 2, TimeSlot: database.TimeSlot("midnight")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeEntries([]SlotEntry{tt.entry})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSortSchedule(t *testing.T) {
	slots := []database.AvailabilitySlot{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning},
		{DayOfWeek: 0, TimeSlot: database.SlotAllDay},
		{DayOfWeek: 6, TimeSlot: database.SlotAllDay},
		{DayOfWeek: 0, TimeSlot: database.SlotEvening},
		{DayOfWeek: 3, TimeSlot: database.SlotAfternoon},
		{DayOfWeek: 0, TimeSlot: database.SlotMorning},
	}

	sortSchedule(slots)

	expected := []struct {
		day  int
		slot database.TimeSlot
	}{
		{0, database.SlotMorning},
		{0, database.SlotEvening},
		{0, database.SlotAllDay},
		{3, database.SlotAfternoon},
		{6, database.SlotMorning},
		{6, database.SlotAllDay},
	}
	require.Len(t, slots, len(expected))
	for i, e := range expected {
		assert.Equal(t, e.day, slots[i].DayOfWeek, "index %d", i)
		assert.Equal(t, e.slot, slots[i].TimeSlot, "index %d", i)
	}
}

func TestValidateSlotRef(t *testing.T) {
	assert.NoError(t, validateSlotRef(0, database.SlotMorning))
	assert.NoError(t, validateSlotRef(6, database.SlotAllDay))
	assert.ErrorIs(t, validateSlotRef(-1, database.SlotMorning), ErrInvalidInput)
	assert.ErrorIs(t, validateSlotRef(3, database.TimeSlot("nap")), ErrInvalidInput)
}
