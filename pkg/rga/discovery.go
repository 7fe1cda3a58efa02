package rga

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/future"
	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/metrics"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// OnlineSuffix is appended to the display name of live-device targets.
const OnlineSuffix = " [online]"

// OnlineFailureHints are lower-case phrases rga prints when it cannot open a
// live device. An online listing containing any of them is ignored.
var OnlineFailureHints = []string{
	"failed to locate",
	"falling back",
}

// CapabilitySource produces the list of compile targets.
type CapabilitySource interface {
	Discover(ctx context.Context) *future.Task[[]DeviceCapability]
}

// ListCommand builds the target listing invocation for mode.
func ListCommand(rgaPath string, mode Mode) []string {
	return []string{rgaPath, "-s", mode.Backend(), "--list-asics"}
}

// Discoverer enumerates the targets rga supports.
type Discoverer struct {
	tools    *toolreg.Registry
	executor exec.Executor
	logger   *logx.Logger
	metrics  metrics.Recorder
}

// NewDiscoverer creates a discoverer from the shared collaborators.
func NewDiscoverer(cfg Config) *Discoverer {
	cfg = cfg.withDefaults("discovery")
	return &Discoverer{
		tools:    cfg.Tools,
		executor: cfg.Executor,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Discover launches the online and offline listings back to back and returns
// a task that parses them on Get. Offline entries always come first.
//
// Without rga the task is already resolved to an empty list. A failure to
// launch the offline listing fails the task; the online listing is optional.
func (d *Discoverer) Discover(ctx context.Context) *future.Task[[]DeviceCapability] {
	rgaTool := d.tools.Get(toolreg.RGA)
	if !rgaTool.Found {
		d.logger.Debug("rga not available, no targets to discover")
		return future.Ready([]DeviceCapability{})
	}

	return future.New(func() (future.Finish[[]DeviceCapability], error) {
		opts := &exec.Opts{DiscardStderr: true}

		online, err := d.executor.Start(ctx, ListCommand(rgaTool.ExecPath, ModeOnline), opts)
		if err != nil {
			d.logger.Warn("Failed to start online target listing: %v", err)
			d.metrics.ObserveToolRun(toolreg.RGA, "list-online", -1, true, 0)
			online = nil
		}

		offline, err := d.executor.Start(ctx, ListCommand(rgaTool.ExecPath, ModeOffline), opts)
		if err != nil {
			d.metrics.ObserveToolRun(toolreg.RGA, "list-offline", -1, true, 0)
			if online != nil {
				go func() { _, _ = online.Wait() }()
			}
			return nil, fmt.Errorf("failed to start offline target listing: %w", err)
		}

		return func() ([]DeviceCapability, error) {
			return d.collect(offline, online)
		}, nil
	})
}

func (d *Discoverer) collect(offline, online exec.Process) ([]DeviceCapability, error) {
	res, err := offline.Wait()
	d.metrics.ObserveToolRun(toolreg.RGA, "list-offline", res.ExitCode, err != nil, res.Duration)
	if err != nil {
		return nil, fmt.Errorf("offline target listing failed: %w", err)
	}
	targets := ParseTargetListing(res.Stdout)
	d.metrics.ObserveDiscovery(ModeOffline.String(), len(targets))

	onlineTargets := d.collectOnline(online)
	d.metrics.ObserveDiscovery(ModeOnline.String(), len(onlineTargets))

	d.logger.Debug("Discovered %d offline and %d online targets", len(targets), len(onlineTargets))
	return append(targets, onlineTargets...), nil
}

func (d *Discoverer) collectOnline(online exec.Process) []DeviceCapability {
	if online == nil {
		return nil
	}
	res, err := online.Wait()
	d.metrics.ObserveToolRun(toolreg.RGA, "list-online", res.ExitCode, err != nil, res.Duration)
	if err != nil {
		d.logger.Warn("Online target listing failed: %v", err)
		return nil
	}
	if onlineUnavailable(res.Stdout) {
		d.logger.Debug("No live device available, ignoring online listing")
		return nil
	}

	targets := ParseTargetListing(res.Stdout)
	for i := range targets {
		targets[i].Name = targets[i].Target + OnlineSuffix
		targets[i].Online = true
	}
	return targets
}

func onlineUnavailable(stdout string) bool {
	lower := strings.ToLower(stdout)
	for _, hint := range OnlineFailureHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// CachedDiscoverer shares one discovery task per rga executable so repeated
// refreshes reuse the listing already in flight. Failed tasks are not reused.
type CachedDiscoverer struct {
	inner CapabilitySource
	tools *toolreg.Registry

	mu    sync.Mutex
	cache *lru.Cache[string, *future.Task[[]DeviceCapability]]
}

// NewCachedDiscoverer wraps inner with an LRU of the given size.
func NewCachedDiscoverer(inner CapabilitySource, tools *toolreg.Registry, size int) (*CachedDiscoverer, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, *future.Task[[]DeviceCapability]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery cache: %w", err)
	}
	return &CachedDiscoverer{inner: inner, tools: tools, cache: cache}, nil
}

// Discover returns the cached task for the current rga path, starting a new
// discovery when there is none or the cached one failed.
func (c *CachedDiscoverer) Discover(ctx context.Context) *future.Task[[]DeviceCapability] {
	key := c.tools.Path(toolreg.RGA)

	c.mu.Lock()
	defer c.mu.Unlock()

	if task, ok := c.cache.Get(key); ok {
		if _, resolved, err := task.Peek(); !resolved || err == nil {
			return task
		}
		c.cache.Remove(key)
	}
	task := c.inner.Discover(ctx)
	c.cache.Add(key, task)
	return task
}

// Invalidate drops every cached task.
func (c *CachedDiscoverer) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// Len returns the number of cached tasks.
func (c *CachedDiscoverer) Len() int {
	return c.cache.Len()
}
