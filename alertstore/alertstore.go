// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package alertstore holds the in-memory table of currently-firing
// alerts, deduplicated by fingerprint. Each webhook source gets its
// own bucket; firing an alert that is already present is a no-op, so
// repeated deliveries from an alerting backend produce one
// notification.
package alertstore

import (
	"encoding/hex"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// Alert is one alert as delivered by the webhook, in the wire shape
// the alerting backend sends.
type Alert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt,omitempty"`
	EndsAt       string            `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	SilenceURL   string            `json:"silenceURL,omitempty"`
	DashboardURL string            `json:"dashboardURL,omitempty"`
	PanelURL     string            `json:"panelURL,omitempty"`
	Values       map[string]any    `json:"values,omitempty"`
}

// Name returns the alert's display name: the alertname label, falling
// back to the fingerprint when the label is absent.
func (a Alert) Name() string {
	if name, ok := a.Labels["alertname"]; ok {
		return name
	}
	return a.Fingerprint
}

// fingerprintFromLabels derives a stable fingerprint for alerts that
// arrive without one, by hashing the sorted label set.
func fingerprintFromLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hasher := blake3.New()
	for _, key := range keys {
		hasher.Write([]byte(key))
		hasher.Write([]byte{0})
		hasher.Write([]byte(labels[key]))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

// Store is the firing-alerts table. One mutex serializes every
// operation; webhook deliveries and chat commands contend on it only
// briefly.
type Store struct {
	mu sync.Mutex
	// buckets maps source name to that source's firing alerts, in
	// arrival order. A key, once created, survives purges.
	buckets map[string][]Alert
}

// New creates an empty store.
func New() *Store {
	return &Store{buckets: make(map[string][]Alert)}
}

// Fire records the given alerts as firing for the named source and
// returns the subset that was not already firing, in input order.
// Alerts without a fingerprint get one derived from their labels.
// Firing zero new alerts returns an empty slice, never nil growth in
// the bucket.
func (s *Store) Fire(source string, alerts []Alert) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.buckets[source]
	firing := make(map[string]bool, len(bucket))
	for _, existing := range bucket {
		firing[existing.Fingerprint] = true
	}

	var added []Alert
	for _, alert := range alerts {
		if alert.Fingerprint == "" {
			alert.Fingerprint = fingerprintFromLabels(alert.Labels)
		}
		if firing[alert.Fingerprint] {
			continue
		}
		firing[alert.Fingerprint] = true
		bucket = append(bucket, alert)
		added = append(added, alert)
	}

	s.buckets[source] = bucket
	return added
}

// Resolve removes the given alerts from the named source's bucket, by
// fingerprint. Alerts firing under other sources are untouched.
// Returns the input alerts (fingerprints filled in where missing) so
// the caller can announce the resolutions, whether or not the store
// was still tracking them.
func (s *Store) Resolve(source string, alerts []Alert) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make(map[string]bool, len(alerts))
	for i := range alerts {
		if alerts[i].Fingerprint == "" {
			alerts[i].Fingerprint = fingerprintFromLabels(alerts[i].Labels)
		}
		resolved[alerts[i].Fingerprint] = true
	}

	bucket := s.buckets[source]
	kept := bucket[:0]
	for _, existing := range bucket {
		if !resolved[existing.Fingerprint] {
			kept = append(kept, existing)
		}
	}
	s.buckets[source] = kept

	return alerts
}

// Get returns a copy of the named source's firing alerts. The second
// return is false when the source has never fired (no bucket exists).
func (s *Store) Get(source string) ([]Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[source]
	if !ok {
		return nil, false
	}
	snapshot := make([]Alert, len(bucket))
	copy(snapshot, bucket)
	return snapshot, true
}

// Sources returns the names of every bucket, sorted.
func (s *Store) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Purge truncates every bucket. Bucket keys are preserved so Get keeps
// distinguishing "source known, nothing firing" from "source never
// seen".
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for source := range s.buckets {
		s.buckets[source] = nil
	}
}
