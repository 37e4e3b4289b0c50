// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moduleEventCounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "module_event_counts",
	Help: "Number of events delivered to each module's inbound channel",
}, []string{"event"})
