// Package stats tracks running pipeline counters, exposed over the
// stats API endpoint.
package stats

import (
	"sync/atomic"
	"time"
)

// Collector accumulates pipeline counters. All methods are safe for
// concurrent use.
type Collector struct {
	startedAt time.Time

	processed      atomic.Int64
	flagged        atomic.Int64
	escalated      atomic.Int64
	remoteFailures atomic.Int64
	failSafe       atomic.Int64

	alertsHigh   atomic.Int64
	alertsMedium atomic.Int64
	alertsLow    atomic.Int64

	dispatchFailures atomic.Int64

	// riskSumMilli accumulates risk scores in thousandths so the
	// average can be computed without a float CAS loop.
	riskSumMilli atomic.Int64
}

// NewCollector creates a collector with the uptime clock started.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// RecordAnalysis records one completed analysis.
func (c *Collector) RecordAnalysis(riskScore float64, flagged, escalated bool) {
	c.processed.Add(1)
	c.riskSumMilli.Add(int64(riskScore * 1000))
	if flagged {
		c.flagged.Add(1)
	}
	if escalated {
		c.escalated.Add(1)
	}
}

// RecordRemoteFailure records a failed remote scorer call.
func (c *Collector) RecordRemoteFailure() { c.remoteFailures.Add(1) }

// RecordFailSafe records a transaction that hit the fail-safe path.
func (c *Collector) RecordFailSafe() { c.failSafe.Add(1) }

// RecordAlert records one created alert by severity.
func (c *Collector) RecordAlert(severity string) {
	switch severity {
	case "HIGH":
		c.alertsHigh.Add(1)
	case "MEDIUM":
		c.alertsMedium.Add(1)
	case "LOW":
		c.alertsLow.Add(1)
	}
}

// RecordDispatchFailure records a channel dispatch failure.
func (c *Collector) RecordDispatchFailure() { c.dispatchFailures.Add(1) }

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	UptimeSeconds    int64   `json:"uptimeSeconds"`
	Processed        int64   `json:"processed"`
	Flagged          int64   `json:"flagged"`
	Escalated        int64   `json:"escalated"`
	RemoteFailures   int64   `json:"remoteFailures"`
	FailSafe         int64   `json:"failSafe"`
	AverageRisk      float64 `json:"averageRisk"`
	AlertsHigh       int64   `json:"alertsHigh"`
	AlertsMedium     int64   `json:"alertsMedium"`
	AlertsLow        int64   `json:"alertsLow"`
	DispatchFailures int64   `json:"dispatchFailures"`
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	processed := c.processed.Load()
	avg := 0.0
	if processed > 0 {
		avg = float64(c.riskSumMilli.Load()) / 1000.0 / float64(processed)
	}

	return Snapshot{
		UptimeSeconds:    int64(time.Since(c.startedAt).Seconds()),
		Processed:        processed,
		Flagged:          c.flagged.Load(),
		Escalated:        c.escalated.Load(),
		RemoteFailures:   c.remoteFailures.Load(),
		FailSafe:         c.failSafe.Load(),
		AverageRisk:      avg,
		AlertsHigh:       c.alertsHigh.Load(),
		AlertsMedium:     c.alertsMedium.Load(),
		AlertsLow:        c.alertsLow.Load(),
		DispatchFailures: c.dispatchFailures.Load(),
	}
}
