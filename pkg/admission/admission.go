// Copyright 2025 Wisdom Hub Project
//
// Admission Controller - maps disk pressure and caller familiarity to a
// write verdict. Sole writer of the resource level; all write paths read it
// once per decision.

package admission

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/disk"
)

// Level is the hub's resource level, derived from used-disk percentage.
type Level int32

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

// String renders the level for logs, stats, and heartbeats.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// CapacityHint is attached to successful write responses at WARNING level.
const CapacityHint = "hub approaching storage capacity; consider federating writes to a peer hub"

// UsageFunc reports the used-disk percentage for a path. Injectable so tests
// can drive the level without touching a filesystem.
type UsageFunc func(path string) (float64, error)

// diskUsage samples the real filesystem through gopsutil.
func diskUsage(path string) (float64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

var resourceLevelGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "wisdomhub_resource_level",
	Help: "Current admission resource level (0=normal, 1=warning, 2=critical)",
})

// Config configures the admission controller.
type Config struct {
	DataDir           string
	WarningThreshold  float64       // used-disk percent
	CriticalThreshold float64       // used-disk percent
	CheckInterval     time.Duration // Default: 30 seconds
	Usage             UsageFunc     // Default: gopsutil disk usage
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  75,
		CriticalThreshold: 90,
		CheckInterval:     30 * time.Second,
	}
}

// Controller samples disk usage on a fixed interval and publishes the
// resulting level atomically. Transitions are unconditional functions of the
// sampled value; there is no hysteresis.
type Controller struct {
	dataDir  string
	warning  float64
	critical float64
	interval time.Duration
	usage    UsageFunc

	level  atomic.Int32
	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an admission controller. The initial level is NORMAL until the
// first sample lands.
func New(cfg Config) *Controller {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Usage == nil {
		cfg.Usage = diskUsage
	}
	return &Controller{
		dataDir:  cfg.DataDir,
		warning:  cfg.WarningThreshold,
		critical: cfg.CriticalThreshold,
		interval: cfg.CheckInterval,
		usage:    cfg.Usage,
		logger:   log.New(log.Writer(), "[Admission] ", log.LstdFlags),
	}
}

// Start samples immediately, then on every tick until the context ends.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.SampleOnce()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.SampleOnce()
			}
		}
	}()
}

// Stop halts the sampler and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// SampleOnce takes one disk sample and republishes the level. On sampling
// failure the last known level is retained and a warning is logged.
func (c *Controller) SampleOnce() {
	used, err := c.usage(c.dataDir)
	if err != nil {
		c.logger.Printf("WARNING: disk sampling failed, retaining level %s: %v", c.Level(), err)
		return
	}
	level := LevelNormal
	switch {
	case used >= c.critical:
		level = LevelCritical
	case used >= c.warning:
		level = LevelWarning
	}
	prev := Level(c.level.Swap(int32(level)))
	resourceLevelGauge.Set(float64(level))
	if prev != level {
		c.logger.Printf("resource level %s -> %s (disk %.1f%% used)", prev, level, used)
	}
}

// Level returns the currently published resource level.
func (c *Controller) Level() Level {
	return Level(c.level.Load())
}

// Verdict is the outcome of one admission decision.
type Verdict struct {
	Allowed bool
	Reason  string
	Hint    string // advisory attached to success responses at WARNING
}

// Decide maps the published level plus caller familiarity to a verdict.
// The level is read exactly once per decision.
//
//	NORMAL   - no restrictions
//	WARNING  - admitted, with a federation hint on the response
//	CRITICAL - new agent creation rejected; non-agent writes rejected unless
//	           the author is already known to this hub
func (c *Controller) Decide(newAgent, authorKnown bool) Verdict {
	switch c.Level() {
	case LevelCritical:
		if newAgent {
			return Verdict{Reason: "hub at critical capacity: new agent registration suspended"}
		}
		if !authorKnown {
			return Verdict{Reason: "hub at critical capacity: writes accepted from known agents only"}
		}
		return Verdict{Allowed: true}
	case LevelWarning:
		return Verdict{Allowed: true, Hint: CapacityHint}
	default:
		return Verdict{Allowed: true}
	}
}
