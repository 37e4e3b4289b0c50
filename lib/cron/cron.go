// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses standard 5-field cron expressions and computes
// the next occurrence after a given time.
//
// Supported syntax per field: wildcard (*), single values (5), ranges
// (1-5), lists (1,3,5), and steps (*/15, 1-30/5). Fields are minute
// (0-59), hour (0-23), day of month (1-31), month (1-12), and day of
// week (0-6, 0=Sunday). All computation is in UTC. No @-shortcuts, no
// seconds field, no named days or months — worker schedules use UTC
// wall-clock time exclusively.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSet is a compact set of integers 0-63, one bit per value.
type fieldSet uint64

func (f fieldSet) has(value int) bool { return f&(1<<uint(value)) != 0 }
func (f *fieldSet) add(value int)     { *f |= 1 << uint(value) }

// fieldSpec describes the valid range of one cron field, for parsing
// and error messages.
type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed cron expression. Use Parse to create one, then
// Next to compute the next matching time. The zero value matches
// nothing; a Schedule is immutable and safe to share.
type Schedule struct {
	fields [5]fieldSet
}

// Parse parses a standard 5-field cron expression. Returns an error if
// the expression is malformed or contains out-of-range values.
func Parse(expression string) (Schedule, error) {
	parts := strings.Fields(expression)
	if len(parts) != len(fieldSpecs) {
		return Schedule{}, fmt.Errorf("cron: expected %d fields, got %d", len(fieldSpecs), len(parts))
	}

	var schedule Schedule
	for i, spec := range fieldSpecs {
		set, err := parseField(parts[i], spec)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %s field: %w", spec.name, err)
		}
		schedule.fields[i] = set
	}
	return schedule, nil
}

// parseField parses one comma-separated field into its value set.
func parseField(field string, spec fieldSpec) (fieldSet, error) {
	var set fieldSet
	for _, term := range strings.Split(field, ",") {
		if err := addTerm(&set, term, spec); err != nil {
			return 0, err
		}
	}
	if set == 0 {
		return 0, fmt.Errorf("%q produces an empty set", field)
	}
	return set, nil
}

// addTerm parses a single term (*, */N, V, V-V, V-V/N) into set.
func addTerm(set *fieldSet, term string, spec fieldSpec) error {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")

	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepPart)
		if err != nil {
			return fmt.Errorf("invalid step %q: %w", stepPart, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	start, end := spec.min, spec.max
	if rangePart != "*" {
		startText, endText, isRange := strings.Cut(rangePart, "-")
		var err error
		if start, err = strconv.Atoi(startText); err != nil {
			return fmt.Errorf("invalid value %q: %w", startText, err)
		}
		end = start
		if isRange {
			if end, err = strconv.Atoi(endText); err != nil {
				return fmt.Errorf("invalid range end %q: %w", endText, err)
			}
			if start > end {
				return fmt.Errorf("range start %d > end %d", start, end)
			}
		}
	}

	if start < spec.min || end > spec.max {
		return fmt.Errorf("value out of range [%d-%d]: got %d-%d", spec.min, spec.max, start, end)
	}

	for value := start; value <= end; value += step {
		set.add(value)
	}
	return nil
}

// Next returns the earliest time strictly after t that matches the
// schedule, in UTC.
//
// Returns an error if no matching time exists within 4 years of t,
// which prevents an unbounded search on impossible schedules such as
// February 31st.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	minutes := s.fields[0]
	hours := s.fields[1]
	daysOfMonth := s.fields[2]
	months := s.fields[3]
	daysOfWeek := s.fields[4]

	// Start from the next whole minute after t.
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)

	// 4 years covers every leap-year cycle.
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		// Both day constraints are checked unconditionally. A wildcard
		// field has every bit set, so this yields standard cron
		// behavior without tracking which fields were restricted.
		if !daysOfMonth.has(t.Day()) || !daysOfWeek.has(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}

		if !minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}
