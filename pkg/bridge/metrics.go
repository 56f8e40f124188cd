// Copyright 2024-2026 Aiku AI

package bridge

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Collector receives relay outcome signals.
type Collector interface {
	RelaySucceeded(latency time.Duration)
	RelayFailed()
}

// NopCollector discards all signals.
type NopCollector struct{}

func (NopCollector) RelaySucceeded(time.Duration) {}
func (NopCollector) RelayFailed()                 {}

// LogCollector counts outcomes and logs each success with its end-to-end
// latency at debug level.
type LogCollector struct {
	log       zerolog.Logger
	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewLogCollector(log zerolog.Logger) *LogCollector {
	return &LogCollector{log: log.With().Str("component", "metrics").Logger()}
}

func (c *LogCollector) RelaySucceeded(latency time.Duration) {
	n := c.succeeded.Add(1)
	c.log.Debug().Dur("latency", latency).Int64("total", n).Msg("Relay succeeded")
}

func (c *LogCollector) RelayFailed() {
	c.failed.Add(1)
}

// Counts returns the totals collected so far.
func (c *LogCollector) Counts() (succeeded, failed int64) {
	return c.succeeded.Load(), c.failed.Load()
}
