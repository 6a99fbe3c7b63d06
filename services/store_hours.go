package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront-agent/models"
)

// HoursChecker reports whether a tenant is open. known=false means the tenant
// has no usable hours configured and the hours feature is inert.
type HoursChecker interface {
	IsOpen(ctx context.Context, tenant *models.TenantConfig, now time.Time) (open bool, known bool)
}

// WeeklyHours evaluates a tenant's weekly opening windows in its timezone.
type WeeklyHours struct{}

func (WeeklyHours) IsOpen(ctx context.Context, tenant *models.TenantConfig, now time.Time) (bool, bool) {
	if tenant == nil || len(tenant.WeeklyHours) == 0 {
		return false, false
	}

	loc := time.UTC
	if tenant.Timezone != "" {
		l, err := time.LoadLocation(tenant.Timezone)
		if err != nil {
			return false, false
		}
		loc = l
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	today := local.Weekday()
	yesterday := (today + 6) % 7

	valid := 0
	for _, h := range tenant.WeeklyHours {
		open, err := parseClock(h.Open)
		if err != nil {
			continue
		}
		closeAt, err := parseClock(h.Close)
		if err != nil {
			continue
		}
		valid++

		switch {
		case open == closeAt:
			// open around the clock
			if h.Weekday == today {
				return true, true
			}
		case open < closeAt:
			if h.Weekday == today && minute >= open && minute < closeAt {
				return true, true
			}
		default:
			// window runs past midnight into the next day
			if h.Weekday == today && minute >= open {
				return true, true
			}
			if h.Weekday == yesterday && minute < closeAt {
				return true, true
			}
		}
	}
	if valid == 0 {
		return false, false
	}
	return false, true
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
