// Package resourceguard enforces static admission and rate limits so a
// single overloaded client or a burst on the backbone cannot degrade the
// rest of the process. It ports the teacher's CPU-sampling ResourceGuard to
// a multicast-fed service instead of a NATS-fed one.
package resourceguard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

type Config struct {
	CPURejectThreshold float64 // reject new work above this CPU percent
	CPUPauseThreshold  float64 // pause bus consumption above this CPU percent
	MaxBusMessageRate  int     // messages/sec sustained, bus consumption
}

// Guard samples system-wide CPU usage on an interval and exposes simple
// admit/pause decisions plus a token-bucket rate limiter for bus
// consumption.
type Guard struct {
	cfg Config
	log zerolog.Logger

	busLimiter *rate.Limiter

	currentCPU atomic.Uint64 // math.Float64bits
}

func New(cfg Config, logger zerolog.Logger) *Guard {
	return &Guard{
		cfg:        cfg,
		log:        logger,
		busLimiter: rate.NewLimiter(rate.Limit(cfg.MaxBusMessageRate), cfg.MaxBusMessageRate),
	}
}

// StartMonitoring samples CPU usage every interval until ctx is cancelled.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pct, err := cpu.Percent(0, false)
				if err != nil || len(pct) == 0 {
					continue
				}
				g.setCPU(pct[0])
			}
		}
	}()
}

func (g *Guard) setCPU(pct float64) {
	g.currentCPU.Store(float64ToBits(pct))
}

func (g *Guard) CPUPercent() float64 {
	return bitsToFloat64(g.currentCPU.Load())
}

// ShouldAccept reports whether a new unit of admission-controlled work
// (a connection, a session) may proceed given current CPU usage.
func (g *Guard) ShouldAccept() (bool, string) {
	if pct := g.CPUPercent(); pct > g.cfg.CPURejectThreshold {
		return false, "cpu above reject threshold"
	}
	return true, ""
}

// ShouldPauseBusConsumption reports whether bus message processing should
// pause as an emergency brake against CPU exhaustion.
func (g *Guard) ShouldPauseBusConsumption() bool {
	return g.CPUPercent() > g.cfg.CPUPauseThreshold
}

// AllowBusMessage consults the token-bucket rate limiter; if not allowed it
// reports how long the caller would need to wait.
func (g *Guard) AllowBusMessage() (bool, time.Duration) {
	r := g.busLimiter.Reserve()
	if !r.OK() {
		return false, 0
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
