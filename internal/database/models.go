package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeSlot is a time-of-day bucket for recurring weekly availability.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
	SlotAllDay    TimeSlot = "allday"
)

// Valid reports whether the slot is one of the known buckets.
func (t TimeSlot) Valid() bool {
	switch t {
	case SlotMorning, SlotAfternoon, SlotEvening, SlotAllDay:
		return true
	}
	return false
}

// Rank orders slots within a day: morning < afternoon < evening < allday.
func (t TimeSlot) Rank() int {
	switch t {
	case SlotMorning:
		return 0
	case SlotAfternoon:
		return 1
	case SlotEvening:
		return 2
	case SlotAllDay:
		return 3
	}
	return 4
}

// Default matching preferences applied when a user has no stored row.
const (
	DefaultMaxDistanceKm       = 20.0
	DefaultAgeFlexibilityYears = 2
)

// User represents a dad profile. Profiles are owned by the account subsystem;
// the matching service only reads them.
type User struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	City      string       `json:"city" db:"city"`
	Role      *string      `json:"role" db:"role"` // NULL for regular users, set for admins
	Children  ChildrenInfo `json:"children" db:"children"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// IsRegular reports whether the user is a plain member. Only regular users
// are eligible as match candidates.
func (u *User) IsRegular() bool {
	return u.Role == nil
}

// ChildInfo describes one child, used for age-compatibility scoring.
type ChildInfo struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

// ChildrenInfo is stored as a JSONB column.
type ChildrenInfo []ChildInfo

func (c ChildrenInfo) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *ChildrenInfo) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into ChildrenInfo", value)
	}
}

// AvailabilitySlot is one declared weekly recurring slot.
// At most one row exists per (user, day_of_week, time_slot).
type AvailabilitySlot struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	DayOfWeek  int       `json:"day_of_week" db:"day_of_week"` // 0=Sunday .. 6=Saturday
	TimeSlot   TimeSlot  `json:"time_slot" db:"time_slot"`
	Recurrence string    `json:"recurrence" db:"recurrence"` // currently always "weekly"
	IsActive   bool      `json:"is_active" db:"is_active"`
	Notes      *string   `json:"notes" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// MatchPreferences tunes match discovery for one user. Read-only here.
type MatchPreferences struct {
	UserID              string     `json:"user_id" db:"user_id"`
	MaxDistanceKm       float64    `json:"max_distance_km" db:"max_distance_km"`
	AgeFlexibilityYears int        `json:"age_flexibility_years" db:"age_flexibility_years"`
	Enabled             bool       `json:"enabled" db:"enabled"`
	LastRunAt           *time.Time `json:"last_run_at" db:"last_run_at"`
}

// DefaultMatchPreferences returns the preferences used when no row exists.
func DefaultMatchPreferences(userID string) MatchPreferences {
	return MatchPreferences{
		UserID:              userID,
		MaxDistanceKm:       DefaultMaxDistanceKm,
		AgeFlexibilityYears: DefaultAgeFlexibilityYears,
		Enabled:             true,
	}
}

// SharedSlot is one overlapping (day, slot) pair between two users.
type SharedSlot struct {
	DayOfWeek int      `json:"day_of_week"`
	TimeSlot  TimeSlot `json:"time_slot"`
}

// SharedSlots is stored as a JSONB column on availability_matches.
type SharedSlots []SharedSlot

func (s SharedSlots) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal(SharedSlots{})
	}
	return json.Marshal(s)
}

func (s *SharedSlots) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into SharedSlots", value)
	}
}

// Contains reports whether the given pair is part of the shared set.
func (s SharedSlots) Contains(dayOfWeek int, slot TimeSlot) bool {
	for _, ss := range s {
		if ss.DayOfWeek == dayOfWeek && ss.TimeSlot == slot {
			return true
		}
	}
	return false
}

// AvailabilityMatch is a directional, persisted match row. The owning user's
// recalculation fully replaces their row set; the mirrored direction is only
// refreshed by peer fan-out.
type AvailabilityMatch struct {
	ID            string      `json:"id" db:"id"`
	UserID        string      `json:"user_id" db:"user_id"`
	MatchedUserID string      `json:"matched_user_id" db:"matched_user_id"`
	SharedSlots   SharedSlots `json:"shared_slots" db:"shared_slots"`
	Score         int         `json:"score" db:"score"` // 0..100
	DistanceKm    string      `json:"distance_km" db:"distance_km"` // decimal text, 1 fraction digit
	CalculatedAt  time.Time   `json:"calculated_at" db:"calculated_at"`
}
