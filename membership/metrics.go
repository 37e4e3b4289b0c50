// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var statusRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "db_status_requests_total",
	Help: "Number of membership status lookups served from the roster",
})
