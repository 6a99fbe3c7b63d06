package services

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"

	"storefront-agent/models"
)

func TestWeeklyHours_Timezone(t *testing.T) {
	tenant := &models.TenantConfig{
		Timezone: "America/New_York",
		WeeklyHours: []models.OpenHours{
			{Weekday: time.Monday, Open: "09:00", Close: "17:00"},
		},
	}

	// 12:00 UTC is 07:00 in New York
	open, known := WeeklyHours{}.IsOpen(context.Background(), tenant, testNow)
	assert.True(t, known)
	assert.False(t, open)

	open, known = WeeklyHours{}.IsOpen(context.Background(), tenant, testNow.Add(3*time.Hour))
	assert.True(t, known)
	assert.True(t, open)

	// 17:00 is closing time
	open, _ = WeeklyHours{}.IsOpen(context.Background(), tenant, testNow.Add(10*time.Hour))
	assert.False(t, open)
}

func TestWeeklyHours_Overnight(t *testing.T) {
	tenant := &models.TenantConfig{
		WeeklyHours: []models.OpenHours{
			{Weekday: time.Sunday, Open: "22:00", Close: "02:00"},
		},
	}
	monday := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		at   time.Time
		open bool
	}{
		{monday.Add(-3 * time.Hour), false}, // sunday 21:00
		{monday.Add(-1 * time.Hour), true},  // sunday 23:00
		{monday.Add(1 * time.Hour), true},   // monday 01:00
		{monday.Add(2 * time.Hour), false},  // monday 02:00
		{monday.Add(23 * time.Hour), false}, // monday 23:00
	}
	for _, tc := range cases {
		open, known := WeeklyHours{}.IsOpen(context.Background(), tenant, tc.at)
		assert.True(t, known)
		assert.Equal(t, tc.open, open, tc.at.Format(time.RFC3339))
	}
}

func TestWeeklyHours_AllDay(t *testing.T) {
	tenant := &models.TenantConfig{
		WeeklyHours: []models.OpenHours{{Weekday: time.Monday, Open: "00:00", Close: "00:00"}},
	}
	open, known := WeeklyHours{}.IsOpen(context.Background(), tenant, testNow)
	assert.True(t, known)
	assert.True(t, open)
}

func TestWeeklyHours_Unknown(t *testing.T) {
	h := WeeklyHours{}
	ctx := context.Background()

	_, known := h.IsOpen(ctx, nil, testNow)
	assert.False(t, known)

	_, known = h.IsOpen(ctx, &models.TenantConfig{}, testNow)
	assert.False(t, known)

	_, known = h.IsOpen(ctx, &models.TenantConfig{
		Timezone:    "Mars/Olympus_Mons",
		WeeklyHours: []models.OpenHours{{Weekday: time.Monday, Open: "09:00", Close: "17:00"}},
	}, testNow)
	assert.False(t, known)

	_, known = h.IsOpen(ctx, &models.TenantConfig{
		WeeklyHours: []models.OpenHours{{Weekday: time.Monday, Open: "9am", Close: "25:00"}},
	}, testNow)
	assert.False(t, known)
}

func TestParseClock(t *testing.T) {
	m, err := parseClock(" 09:30 ")
	assert.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = parseClock("24:00")
	assert.NoError(t, err)
	assert.Equal(t, 1440, m)

	for _, bad := range []string{"", "9", "24:30", "12:60", "ab:cd"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}
