package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/reedfamily/reedlink/internal/docker"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// Sampler reads container resource usage.
type Sampler interface {
	StatsOnce(ctx context.Context, id string) (docker.Usage, error)
}

// HostSampler reads host-wide load and memory pressure.
type HostSampler func(ctx context.Context) (load1, memPercent float64, err error)

type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

// Collector periodically publishes HealthSnapshot events.
type Collector struct {
	pub       Publisher
	sampler   Sampler
	host      HostSampler
	container func() string
	players   func() int
	log       zerolog.Logger

	mu     sync.RWMutex
	latest *event.HealthSnapshot
}

type Option func(*Collector)

// WithContainer sets the container to sample; an empty id skips container stats.
func WithContainer(sampler Sampler, id func() string) Option {
	return func(c *Collector) {
		c.sampler = sampler
		c.container = id
	}
}

func WithPlayers(count func() int) Option {
	return func(c *Collector) { c.players = count }
}

func WithHostSampler(h HostSampler) Option {
	return func(c *Collector) { c.host = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

func NewCollector(pub Publisher, opts ...Option) *Collector {
	c := &Collector{
		pub:  pub,
		host: SampleHost,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "health").Logger()
	return c
}

// Register schedules Collect every interval, starting immediately.
func (c *Collector) Register(s *scheduler.Scheduler, interval time.Duration) *scheduler.Task {
	return s.CallPeriodic("health", interval, c.Collect, scheduler.WithInitialDelay(0))
}

// Collect takes one sample and publishes it. Partial samples are still
// published; the returned error joins every source that failed.
func (c *Collector) Collect(ctx context.Context) error {
	snap := event.HealthSnapshot{At: time.Now()}
	var errs []error

	if c.sampler != nil && c.container != nil {
		if id := c.container(); id != "" {
			u, err := c.sampler.StatsOnce(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("container stats: %w", err))
			} else {
				snap.CPUPercent = u.CPUPercent
				snap.MemoryBytes = u.MemoryBytes
				snap.MemoryLimit = u.MemoryLimit
			}
		}
	}
	if c.host != nil {
		load1, memPct, err := c.host(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("host stats: %w", err))
		}
		snap.HostLoad1, snap.HostMemPercent = load1, memPct
	}
	if c.players != nil {
		snap.Players = c.players()
	}

	c.mu.Lock()
	c.latest = &snap
	c.mu.Unlock()

	c.pub.Publish(ctx, snap)
	c.log.Trace().Float64("cpu", snap.CPUPercent).Int64("mem", snap.MemoryBytes).Int("players", snap.Players).Msg("sampled")
	return errors.Join(errs...)
}

// Latest returns the most recent snapshot.
func (c *Collector) Latest() (event.HealthSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return event.HealthSnapshot{}, false
	}
	return *c.latest, true
}

// SampleHost reads the 1-minute load average and used memory percentage.
func SampleHost(ctx context.Context) (float64, float64, error) {
	var errs []error
	var load1, memPct float64
	if avg, err := load.AvgWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		memPct = vm.UsedPercent
	}
	return load1, memPct, errors.Join(errs...)
}
