package api

import (
	"context"
	"fmt"
	"time"
)

// Check is one component of the health report.
type Check struct {
	// Name is a stable machine-readable identifier.
	Name string `json:"name"`
	// Level is "ok" | "warning" | "critical".
	Level string `json:"level"`
	// Detail explains the level.
	Detail string `json:"detail"`
	// Value is an optional number the level was derived from.
	Value *float64 `json:"value,omitempty"`
}

// loadWarnRatio is the share of max_connections above which the connection
// check reports a warning.
const loadWarnRatio = 0.9

// Pinger is implemented by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// runChecks builds the health checks, critical ones first.
func runChecks(ctx context.Context, db Pinger, conns, maxConns int) []Check {
	var checks []Check

	start := time.Now()
	if err := db.Ping(ctx); err != nil {
		checks = append(checks, Check{
			Name:   "storage",
			Level:  "critical",
			Detail: fmt.Sprintf("storage ping failed: %v", err),
		})
	} else {
		ms := float64(time.Since(start).Microseconds()) / 1000
		checks = append(checks, Check{
			Name:   "storage",
			Level:  "ok",
			Detail: "storage reachable",
			Value:  &ms,
		})
	}

	if maxConns > 0 {
		ratio := float64(conns) / float64(maxConns)
		c := Check{
			Name:   "connections",
			Level:  "ok",
			Detail: fmt.Sprintf("%d of %d connections in use", conns, maxConns),
			Value:  &ratio,
		}
		if ratio >= loadWarnRatio {
			c.Level = "warning"
			c.Detail += "; new clients will soon be refused"
		}
		checks = append(checks, c)
	}
	return checks
}

// overallState reduces checks to a single state.
func overallState(checks []Check) string {
	state := "ok"
	for _, c := range checks {
		switch c.Level {
		case "critical":
			return "down"
		case "warning":
			state = "degraded"
		}
	}
	return state
}
