package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/geocoding"
	"github.com/dadmatch/dadmatch/internal/notification"
)

// These tests run against a real database. They are skipped unless
// TEST_DATABASE_URL points at a disposable instance with the schema loaded.

func setupTestDB(t *testing.T) *database.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.NewConnection(dbURL)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping db: %v", err)
	}
	return db
}

// mapGeocoder resolves cities from a fixed table, no network.
type mapGeocoder struct {
	cities map[string]geocoding.Location
}

func (g *mapGeocoder) GeocodeCity(ctx context.Context, city string) (*geocoding.Location, error) {
	loc, ok := g.cities[city]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

// countingDispatcher records notifications instead of delivering them.
type countingDispatcher struct {
	mu         sync.Mutex
	matchAlert []notification.MatchAlert
	confirmed  int
}

func (d *countingDispatcher) MatchFound(ctx context.Context, alert notification.MatchAlert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matchAlert = append(d.matchAlert, alert)
}

func (d *countingDispatcher) ScheduleConfirmed(ctx context.Context, userID string, slotCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmed++
}

func createTestUser(t *testing.T, db *database.DB, name, city string, childAges ...int) string {
	id := uuid.New().String()
	children := make(database.ChildrenInfo, 0, len(childAges))
	for i, age := range childAges {
		children = append(children, database.ChildInfo{Name: fmt.Sprintf("kid%d", i), Age: age})
	}

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (id, name, email, city, role, children, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, NOW(), NOW())
	`, id, name, id+"@test.local", city, children)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM availability_matches WHERE user_id = $1 OR matched_user_id = $1`, id)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM availability_slots WHERE user_id = $1`, id)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM match_preferences WHERE user_id = $1`, id)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

// createTestSlot seeds one active slot row directly, bypassing the service
// layer so no recalculation or fan-out fires during setup.
func createTestSlot(t *testing.T, db *database.DB, userID string, day int, slot database.TimeSlot) {
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO availability_slots (id, user_id, day_of_week, time_slot, recurrence, is_active, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'weekly', true, NULL, NOW(), NOW())
	`, uuid.New().String(), userID, day, string(slot))
	require.NoError(t, err)
}

func newIntegrationServices(db *database.DB) (*AvailabilityService, *MatchService, *countingDispatcher) {
	geo := &mapGeocoder{cities: map[string]geocoding.Location{
		"Amsterdam": {Latitude: 52.3676, Longitude: 4.9041, City: "Amsterdam", Country: "Netherlands"},
		"Utrecht":   {Latitude: 52.0907, Longitude: 5.1214, City: "Utrecht", Country: "Netherlands"},
		"Groningen": {Latitude: 53.2194, Longitude: 6.5665, City: "Groningen", Country: "Netherlands"},
	}}
	notifier := &countingDispatcher{}
	matches := NewMatchService(db, geo, notifier, nil)
	availability := NewAvailabilityService(db, matches, notifier)
	return availability, matches, notifier
}

func TestSetUserAvailability_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	availability, matches, notifier := newIntegrationServices(db)
	ctx := context.Background()

	userA := createTestUser(t, db, "Alice's dad", "Amsterdam", 4)
	userB := createTestUser(t, db, "Bram's dad", "Amsterdam", 5)

	// B is already available on Saturday morning.
	_, err := availability.SetUserAvailability(ctx, userB, []SlotEntry{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning},
	})
	require.NoError(t, err)

	// A submits the same slot and should match B.
	result, err := availability.SetUserAvailability(ctx, userA, []SlotEntry{
		{DayOfWeek: 6, TimeSlot: database.SlotMorning},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MatchesCount)

	list, err := matches.GetMatches(ctx, userA)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, userB, list[0].Match.MatchedUserID)
	assert.True(t, list[0].Match.SharedSlots.Contains(6, database.SlotMorning))
	// 10 (one shared slot) + 30 (same city) + 5 (one compatible child pair)
	// + 2 (activity bonus)
	assert.Equal(t, 47, list[0].Match.Score)

	// Peer fan-out refreshed B's side too.
	listB, err := matches.GetMatches(ctx, userB)
	require.NoError(t, err)
	require.Len(t, listB, 1)
	assert.Equal(t, userA, listB[0].Match.MatchedUserID)

	notifier.mu.Lock()
	confirmed := notifier.confirmed
	notifier.mu.Unlock()
	assert.GreaterOrEqual(t, confirmed, 2)
}

func TestSetUserAvailability_EmptyClearsEverything(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	availability, matches, notifier := newIntegrationServices(db)
	ctx := context.Background()

	userC := createTestUser(t, db, "Cem's dad", "Utrecht", 3)
	userD := createTestUser(t, db, "Daan's dad", "Utrecht", 3)

	for _, id := range []string{userC, userD} {
		_, err := availability.SetUserAvailability(ctx, id, []SlotEntry{
			{DayOfWeek: 0, TimeSlot: database.SlotAfternoon},
		})
		require.NoError(t, err)
	}

	notifier.mu.Lock()
	confirmedBefore := notifier.confirmed
	notifier.mu.Unlock()

	result, err := availability.SetUserAvailability(ctx, userC, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.MatchesCount)

	slots, err := availability.GetUserAvailability(ctx, userC)
	require.NoError(t, err)
	assert.Empty(t, slots)

	list, err := matches.GetMatches(ctx, userC)
	require.NoError(t, err)
	assert.Empty(t, list)

	notifier.mu.Lock()
	confirmedAfter := notifier.confirmed
	notifier.mu.Unlock()
	assert.Equal(t, confirmedBefore, confirmedAfter, "empty submission must not send a confirmation")
}

func TestCalculateMatches_ReplaceSemantics(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	availability, matches, _ := newIntegrationServices(db)
	ctx := context.Background()

	userE := createTestUser(t, db, "Emre's dad", "Amsterdam", 6)
	userF := createTestUser(t, db, "Fied's dad", "Amsterdam", 7)

	for _, id := range []string{userE, userF} {
		_, err := availability.SetUserAvailability(ctx, id, []SlotEntry{
			{DayOfWeek: 3, TimeSlot: database.SlotEvening},
		})
		require.NoError(t, err)
	}

	first, err := matches.GetMatches(ctx, userE)
	require.NoError(t, err)
	require.Len(t, first, 1)

	n, err := matches.CalculateMatches(ctx, userE)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := matches.GetMatches(ctx, userE)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Match.MatchedUserID, second[0].Match.MatchedUserID)
	assert.NotEqual(t, first[0].Match.ID, second[0].Match.ID, "replace must mint fresh row ids")
}

func TestCalculateMatches_AlertsTopThreeNewMatches(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, matches, notifier := newIntegrationServices(db)
	ctx := context.Background()

	userJ := createTestUser(t, db, "Jip's dad", "Amsterdam", 5)
	createTestSlot(t, db, userJ, 2, database.SlotMorning)

	// Ten peers sharing the slot. The first three have compatible children
	// and outscore the rest, with distinct scores among themselves.
	var peers []string
	childCounts := []int{3, 2, 1, 0, 0, 0, 0, 0, 0, 0}
	for i, kids := range childCounts {
		ages := make([]int, kids)
		for j := range ages {
			ages[j] = 5
		}
		id := createTestUser(t, db, fmt.Sprintf("peer %d's dad", i), "Amsterdam", ages...)
		createTestSlot(t, db, id, 2, database.SlotMorning)
		peers = append(peers, id)
	}

	written, err := matches.CalculateMatches(ctx, userJ)
	require.NoError(t, err)
	assert.Equal(t, len(peers), written)

	notifier.mu.Lock()
	alerts := append([]notification.MatchAlert(nil), notifier.matchAlert...)
	notifier.mu.Unlock()

	require.Len(t, alerts, 3, "only the best three new matches get an alert")
	assert.Equal(t, peers[0], alerts[0].ToUserID)
	assert.Equal(t, peers[1], alerts[1].ToUserID)
	assert.Equal(t, peers[2], alerts[2].ToUserID)
	for _, alert := range alerts {
		assert.Equal(t, userJ, alert.FromUserID)
	}
	assert.Greater(t, alerts[0].Score, alerts[1].Score)
	assert.Greater(t, alerts[1].Score, alerts[2].Score)

	// A rerun over unchanged data rediscovers the same matches, none of
	// which are new, so nobody is alerted again.
	_, err = matches.CalculateMatches(ctx, userJ)
	require.NoError(t, err)

	notifier.mu.Lock()
	total := len(notifier.matchAlert)
	notifier.mu.Unlock()
	assert.Equal(t, 3, total, "recalculated matches must not re-alert")
}

func TestFindCandidates_ExcludesAdmins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, matches, _ := newIntegrationServices(db)
	ctx := context.Background()

	userK := createTestUser(t, db, "Koen's dad", "Amsterdam", 4)
	regular := createTestUser(t, db, "Lars' dad", "Amsterdam", 4)
	admin := createTestUser(t, db, "moderator dad", "Amsterdam", 4)
	_, err := db.ExecContext(ctx, `UPDATE users SET role = 'admin' WHERE id = $1`, admin)
	require.NoError(t, err)

	for _, id := range []string{userK, regular, admin} {
		createTestSlot(t, db, id, 4, database.SlotEvening)
	}

	candidates, err := matches.FindCandidates(ctx, userK)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "only the regular user qualifies")
	assert.Equal(t, regular, candidates[0].User.ID)

	_, err = matches.CalculateMatches(ctx, userK)
	require.NoError(t, err)

	list, err := matches.GetMatches(ctx, userK)
	require.NoError(t, err)
	for _, m := range list {
		assert.NotEqual(t, admin, m.Match.MatchedUserID, "admins must never appear in match rows")
	}
}

func TestToggleSlot_DoesNotRecalculate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	availability, matches, _ := newIntegrationServices(db)
	ctx := context.Background()

	userG := createTestUser(t, db, "Gijs' dad", "Groningen", 2)

	active, err := availability.ToggleAvailabilitySlot(ctx, userG, 5, database.SlotAllDay)
	require.NoError(t, err)
	assert.True(t, active, "first toggle creates an active slot")

	active, err = availability.ToggleAvailabilitySlot(ctx, userG, 5, database.SlotAllDay)
	require.NoError(t, err)
	assert.False(t, active, "second toggle flips it off")

	list, err := matches.GetMatches(ctx, userG)
	require.NoError(t, err)
	assert.Empty(t, list, "toggling must not produce match rows")
}

func TestDistanceCutoff(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	availability, matches, _ := newIntegrationServices(db)
	ctx := context.Background()

	// Amsterdam to Groningen is ~145 km, past the default 20 km preference.
	userH := createTestUser(t, db, "Huub's dad", "Amsterdam", 4)
	userI := createTestUser(t, db, "Imran's dad", "Groningen", 4)

	for _, id := range []string{userH, userI} {
		_, err := availability.SetUserAvailability(ctx, id, []SlotEntry{
			{DayOfWeek: 1, TimeSlot: database.SlotMorning},
		})
		require.NoError(t, err)
	}

	list, err := matches.GetMatches(ctx, userH)
	require.NoError(t, err)
	for _, m := range list {
		assert.NotEqual(t, userI, m.Match.MatchedUserID, "peers past the distance cutoff must not match")
	}
}
