package recorder

import (
	"fmt"
	"time"
)

// allowedTimezones is the fixed set of IANA zones the schedule accepts.
var allowedTimezones = map[string]bool{
	"America/New_York":    true,
	"America/Chicago":     true,
	"America/Denver":      true,
	"America/Phoenix":     true,
	"America/Los_Angeles": true,
	"America/Anchorage":   true,
	"Pacific/Honolulu":    true,
	"UTC":                 true,
}

// Schedule is the single mutable automation schedule. Changes are persisted
// and re-applied to the cron trigger.
type Schedule struct {
	Hour         int    `json:"hour"`
	Minute       int    `json:"minute"`
	Timezone     string `json:"timezone"`
	SkipWeekends bool   `json:"skip_weekends"`
	Enabled      bool   `json:"is_enabled"`
}

// DefaultSchedule runs at 06:00 Eastern on every day.
func DefaultSchedule() Schedule {
	return Schedule{Hour: 6, Minute: 0, Timezone: "America/New_York", Enabled: true}
}

// Validate rejects invalid hour/minute or timezone values before they are
// applied to the trigger.
func (s Schedule) Validate() error {
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("schedule hour %d out of range 0-23", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("schedule minute %d out of range 0-59", s.Minute)
	}
	if !allowedTimezones[s.Timezone] {
		return fmt.Errorf("timezone %q is not in the allowed set", s.Timezone)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// CronSpec renders the schedule as a cron expression.
func (s Schedule) CronSpec() string {
	dow := "*"
	if s.SkipWeekends {
		dow = "1-5"
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow)
}

// Location resolves the schedule's timezone. Falls back to UTC if the zone
// database is missing the entry.
func (s Schedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
