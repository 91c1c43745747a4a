package poller

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/transport"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

// Logger receives structured log lines from the coordinator and its
// device tasks. Compatible with slog-style implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SpecSource resupplies a device's register set on reload. When nil,
// reloads rebuild from the specs held at construction.
type SpecSource interface {
	DeviceSpecs(device string) ([]*template.RegisterSpec, *template.DeviceContext, error)
}

// Options configures a Coordinator.
type Options struct {
	// Devices to poll. At least one is required; names must be unique.
	Devices []DeviceConfig

	// Dial opens the protocol session for an endpoint. Defaults to a
	// shared connection pool keyed by endpoint; tests substitute
	// fakes.
	Dial func(cfg transport.Config) (Transport, error)

	// Source resupplies register sets on reload. Optional; without it
	// reloads re-evaluate the construction-time specs, which still
	// picks up context changes made through them.
	Source SpecSource

	// OnUpdate receives every cache change: fresh values,
	// availability flips, write confirmations. Called from device
	// goroutines, so implementations must return quickly or hand off.
	OnUpdate func(EntityValue)

	// Tick is the scheduler granularity shared by every device task.
	// It bounds how precisely group intervals are honored, not how
	// often the bus is hit. Zero takes the 250ms default.
	Tick time.Duration

	// ErrorLogWindow overrides how long repeat failures for one
	// register stay suppressed after the first log line. Zero keeps
	// the one hour default.
	ErrorLogWindow time.Duration

	Logger Logger
}

// Coordinator owns the device polling tasks and the shared state they
// feed. All reads of entity state go through its snapshot methods;
// device tasks are the only writers.
type Coordinator struct {
	opts   Options
	cache  *Cache
	errors *ErrorTracker
	perf   *Monitor
	logger Logger

	mu       sync.Mutex
	started  bool
	devices  map[string]*device
	configs  map[string]DeviceConfig
	entities map[string]string
	loadErrs map[string]error
	conns    map[string]Transport

	stopOnce sync.Once
}

// New validates the options and prepares a Coordinator. No connections
// are made until Start.
func New(opts Options) (*Coordinator, error) {
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("%w: at least one device is required", ErrConfig)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	seen := make(map[string]struct{}, len(opts.Devices))
	for i := range opts.Devices {
		cfg := &opts.Devices[i]
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: device %d has no name", ErrConfig, i)
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate device name %q", ErrConfig, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		cfg.applyDefaults()
	}
	if opts.Dial == nil {
		pool := transport.NewPool(opts.Logger)
		opts.Dial = func(cfg transport.Config) (Transport, error) {
			return pool.Get(cfg)
		}
	}
	if opts.Tick <= 0 {
		opts.Tick = schedulerTick
	}
	tracker := NewErrorTracker(opts.Logger)
	if opts.ErrorLogWindow > 0 {
		tracker.window = opts.ErrorLogWindow
	}

	return &Coordinator{
		opts:     opts,
		cache:    NewCache(),
		errors:   tracker,
		perf:     NewMonitor(),
		logger:   opts.Logger,
		devices:  make(map[string]*device),
		configs:  make(map[string]DeviceConfig),
		entities: make(map[string]string),
		loadErrs: make(map[string]error),
		conns:    make(map[string]Transport),
	}, nil
}

// Start builds each device's initial register plan and launches its
// polling task. Unreachable devices still come up and retry on
// schedule; only a rejected register set keeps a device unloaded.
// Per-device load failures are joined into the returned error while
// the healthy devices run regardless, so the caller decides whether a
// partial start is fatal.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("%w: already started", ErrConfig)
	}
	c.started = true

	var errs []error
	for _, cfg := range c.opts.Devices {
		c.configs[cfg.Name] = cfg

		gen, err := buildGeneration(&cfg, time.Now())
		if err != nil {
			c.loadErrs[cfg.Name] = err
			c.logger.Error("device configuration rejected",
				"device", cfg.Name,
				"error", err)
			errs = append(errs, fmt.Errorf("device %s: %w", cfg.Name, err))
			continue
		}

		endpoint := cfg.Transport.Endpoint()
		conn, ok := c.conns[endpoint]
		if !ok {
			conn, err = c.opts.Dial(cfg.Transport)
			if err != nil {
				c.loadErrs[cfg.Name] = err
				c.logger.Error("transport setup failed",
					"device", cfg.Name,
					"endpoint", endpoint,
					"error", err)
				errs = append(errs, fmt.Errorf("device %s: %w", cfg.Name, err))
				continue
			}
			c.conns[endpoint] = conn
		}

		dev := newDevice(cfg, conn, c.opts.Tick, c.cache, c.errors, c.perf, c.emit, c.logger)
		dev.swapGeneration(gen)
		c.devices[cfg.Name] = dev
		c.indexLocked(cfg.Name, nil, gen)
		dev.start()
		c.logger.Info("device polling started",
			"device", cfg.Name,
			"endpoint", endpoint,
			"groups", len(gen.groups),
			"registers", gen.polled)
	}
	return errors.Join(errs...)
}

// Stop unloads every device task and closes the shared connections.
// Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		devs := make([]*device, 0, len(c.devices))
		for _, dev := range c.devices {
			devs = append(devs, dev)
		}
		conns := make([]Transport, 0, len(c.conns))
		for _, conn := range c.conns {
			conns = append(conns, conn)
		}
		c.mu.Unlock()

		for _, dev := range devs {
			dev.stop()
		}
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				c.logger.Warn("connection close failed", "error", err)
			}
		}
		c.logger.Info("polling stopped", "devices", len(devs))
	})
}

// GetValue returns the current state of one entity. Entities with no
// cache entry yet, including write-only controls that are never
// polled, synthesize availability from the device link and any
// dependency gate.
func (c *Coordinator) GetValue(uniqueID string) (EntityValue, error) {
	dev, name, err := c.deviceForEntity(uniqueID)
	if err != nil {
		return EntityValue{}, err
	}

	if ev, ok := c.cache.Get(uniqueID); ok {
		return ev, nil
	}

	spec := dev.gen.Load().specs[uniqueID]
	if spec == nil {
		return EntityValue{}, fmt.Errorf("%w: %s", ErrUnknownEntity, uniqueID)
	}
	available := dev.conn.IsConnected()
	if available && spec.DependsOn != nil {
		available = dependencyMet(c.cache, spec.DependsOn)
	}
	return EntityValue{
		UniqueID:  uniqueID,
		Device:    name,
		Name:      spec.Name,
		Value:     value.Unknown(),
		Unit:      spec.Unit,
		Available: available,
	}, nil
}

// Command writes a control value to a device register, bypassing the
// poll schedule, and returns the transport outcome synchronously.
func (c *Coordinator) Command(ctx context.Context, uniqueID string, target any) error {
	dev, _, err := c.deviceForEntity(uniqueID)
	if err != nil {
		return err
	}
	spec := dev.gen.Load().specs[uniqueID]
	if spec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, uniqueID)
	}
	return dev.command(ctx, spec, target)
}

// GroupPlan returns the device's active read plan.
func (c *Coordinator) GroupPlan(device string) (PlanView, error) {
	dev, err := c.deviceByName(device)
	if err != nil {
		return PlanView{}, err
	}
	return dev.gen.Load().view(device), nil
}

// Reload rebuilds a device's register plan from fresh specs and swaps
// it in atomically. An empty device name reloads every running device,
// joining per-device failures while the rest proceed. Surviving
// registers keep their cached values; vanished ones drop. On a build
// failure the previous plan stays live and the error returns to the
// caller.
func (c *Coordinator) Reload(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if device == "" {
		names := make([]string, 0, len(c.devices))
		for name := range c.devices {
			names = append(names, name)
		}
		sort.Strings(names)
		var errs []error
		for _, name := range names {
			if err := c.reloadLocked(name); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return c.reloadLocked(device)
}

func (c *Coordinator) reloadLocked(device string) error {
	dev := c.devices[device]
	if dev == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}

	cfg := c.configs[device]
	if c.opts.Source != nil {
		specs, dctx, err := c.opts.Source.DeviceSpecs(device)
		if err != nil {
			return fmt.Errorf("device %s: reload source: %w", device, err)
		}
		cfg.Specs = specs
		cfg.Context = dctx
	}

	gen, err := buildGeneration(&cfg, time.Now())
	if err != nil {
		c.logger.Error("reload rejected, previous configuration stays live",
			"device", device,
			"error", err)
		return fmt.Errorf("device %s: %w", device, err)
	}

	old := dev.gen.Load()
	c.configs[device] = cfg
	dev.swapGeneration(gen)
	c.indexLocked(device, old, gen)
	c.logger.Info("device configuration reloaded",
		"device", device,
		"groups", len(gen.groups),
		"registers", gen.polled)
	return nil
}

// RemoveRegisters unloads the registers of one device whose unique ids
// match the selector, either an exact id or a path-style glob such as
// "hp_dhw_*". The plan rebuilds without them and their cached values
// drop immediately. Returns how many registers were removed.
func (c *Coordinator) RemoveRegisters(device, selector string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev := c.devices[device]
	if dev == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}

	cfg := c.configs[device]
	kept := make([]*template.RegisterSpec, 0, len(cfg.Specs))
	removed := 0
	for _, spec := range cfg.Specs {
		if matchSelector(selector, spec.UniqueID) {
			removed++
			continue
		}
		kept = append(kept, spec)
	}
	if removed == 0 {
		return 0, nil
	}
	cfg.Specs = kept

	gen, err := buildGeneration(&cfg, time.Now())
	if err != nil {
		return 0, fmt.Errorf("device %s: %w", device, err)
	}

	old := dev.gen.Load()
	c.configs[device] = cfg
	dev.swapGeneration(gen)
	c.indexLocked(device, old, gen)
	c.logger.Info("registers removed",
		"device", device,
		"selector", selector,
		"removed", removed)
	return removed, nil
}

// Performance returns the rolling operation summary for one device, or
// the engine-wide aggregate when device is empty.
func (c *Coordinator) Performance(device string) (Summary, error) {
	if device != "" {
		if _, err := c.deviceByName(device); err != nil {
			return Summary{}, err
		}
	}
	return c.perf.Summary(device), nil
}

// ResetPerformance clears the rolling history for one device, or for
// everything when device is empty. Plan shapes survive a reset.
func (c *Coordinator) ResetPerformance(device string) error {
	if device != "" {
		if _, err := c.deviceByName(device); err != nil {
			return err
		}
	}
	c.perf.Reset(device)
	scope := device
	if scope == "" {
		scope = "all"
	}
	c.logger.Info("performance counters reset", "scope", scope)
	return nil
}

// Values returns the cached entity values for one device, or for every
// device when name is empty.
func (c *Coordinator) Values(device string) ([]EntityValue, error) {
	if device == "" {
		return c.cache.Snapshot(), nil
	}
	if _, err := c.deviceByName(device); err != nil {
		return nil, err
	}
	return c.cache.DeviceSnapshot(device), nil
}

// Errors returns the active failure records across all devices.
func (c *Coordinator) Errors() []ErrorRecord {
	return c.errors.Records()
}

// DeviceStatus is a point-in-time view of one device task.
type DeviceStatus struct {
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	SlaveID   uint8     `json:"slave_id"`
	State     State     `json:"state"`
	Connected bool      `json:"connected"`
	Groups    int       `json:"groups"`
	Registers int       `json:"registers"`
	BuiltAt   time.Time `json:"built_at"`
	LoadError string    `json:"load_error,omitempty"`
}

// Devices returns the status of every configured device, including
// ones whose register set was rejected at load, sorted by name.
func (c *Coordinator) Devices() []DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]DeviceStatus, 0, len(c.configs))
	for name, cfg := range c.configs {
		st := DeviceStatus{
			Name:     name,
			Endpoint: cfg.Transport.Endpoint(),
			SlaveID:  cfg.SlaveID,
		}
		if dev := c.devices[name]; dev != nil {
			st.State = dev.State()
			st.Connected = dev.conn.IsConnected()
			if gen := dev.gen.Load(); gen != nil {
				st.Groups = len(gen.groups)
				st.Registers = gen.polled
				st.BuiltAt = gen.builtAt
			}
		} else if err := c.loadErrs[name]; err != nil {
			st.State = StateStopped
			st.LoadError = err.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Coordinator) emit(ev EntityValue) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(ev)
	}
}

func (c *Coordinator) deviceByName(name string) (*device, error) {
	c.mu.Lock()
	dev := c.devices[name]
	c.mu.Unlock()
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return dev, nil
}

func (c *Coordinator) deviceForEntity(uniqueID string) (*device, string, error) {
	c.mu.Lock()
	name, ok := c.entities[uniqueID]
	var dev *device
	if ok {
		dev = c.devices[name]
	}
	c.mu.Unlock()
	if !ok || dev == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownEntity, uniqueID)
	}
	return dev, name, nil
}

// indexLocked updates the entity index after a generation swap and
// drops state for ids that vanished. Caller holds c.mu.
func (c *Coordinator) indexLocked(device string, old, fresh *generation) {
	var gone []string
	if old != nil {
		for id := range old.specs {
			if _, kept := fresh.specs[id]; !kept {
				gone = append(gone, id)
				delete(c.entities, id)
			}
		}
	}
	for id := range fresh.specs {
		c.entities[id] = device
	}
	if len(gone) > 0 {
		c.cache.Drop(device, gone)
		c.errors.Drop(device, gone)
	}
}

func matchSelector(selector, id string) bool {
	if selector == id {
		return true
	}
	ok, err := path.Match(selector, id)
	return err == nil && ok
}
