package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/planner"
	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/transport"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

// Scheduling constants.
const (
	// schedulerTick is how often a device task checks for due groups
	// and overdue reconnects.
	schedulerTick = 250 * time.Millisecond

	// defaultPollInterval applies to registers without an explicit
	// scan interval.
	defaultPollInterval = 30 * time.Second

	// defaultConnectTimeout bounds one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectInterval spaces reconnect attempts while a
	// device is unreachable. Attempts stay periodic; the interval is
	// the only throttle.
	defaultReconnectInterval = 30 * time.Second

	// defaultInterRequestDelay spaces consecutive group reads to one
	// device within a cycle.
	defaultInterRequestDelay = 50 * time.Millisecond

	// defaultMaxBatchWords caps one read call, comfortably inside the
	// protocol's 125-register limit.
	defaultMaxBatchWords = 100

	// defaultGapMergeThreshold is how many filler words a merged read
	// may waste between wanted registers.
	defaultGapMergeThreshold = 10
)

// State names one phase of a device task's lifecycle.
type State string

// Device lifecycle states.
const (
	StateInit       State = "init"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateUnloading  State = "unloading"
	StateStopped    State = "stopped"
)

// Transport is the protocol session a device task drives. Satisfied by
// *transport.Client; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context, slaveID uint8, table transport.Table, address uint16, quantity int) ([]uint16, error)
	Write(ctx context.Context, slaveID uint8, address uint16, words []uint16) error
	IsConnected() bool
	Close() error
}

// DeviceConfig describes one polled device: its endpoint, its
// instantiated register set, and the scheduling knobs. Zero durations
// and counts take the package defaults.
type DeviceConfig struct {
	Name      string
	Transport transport.Config
	SlaveID   uint8

	// Specs is the device's full register set, conditions unevaluated.
	// The generation build filters it against Context.
	Specs   []*template.RegisterSpec
	Context *template.DeviceContext

	PollInterval      time.Duration
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	InterRequestDelay time.Duration
	MaxBatchWords     int

	// GapMergeThreshold caps the filler words a merged read may waste.
	// nil takes the package default; an explicit zero disables merging.
	GapMergeThreshold *int
}

func (cfg *DeviceConfig) applyDefaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.InterRequestDelay == 0 {
		cfg.InterRequestDelay = defaultInterRequestDelay
	}
	if cfg.MaxBatchWords == 0 {
		cfg.MaxBatchWords = defaultMaxBatchWords
	}
	if cfg.GapMergeThreshold == nil {
		gap := defaultGapMergeThreshold
		cfg.GapMergeThreshold = &gap
	}
}

// device is one per-device polling task.
type device struct {
	cfg          DeviceConfig
	conn         Transport
	tickInterval time.Duration

	gen atomic.Pointer[generation]

	cache  *Cache
	errors *ErrorTracker
	perf   *Monitor

	onUpdate func(EntityValue)
	logger   Logger

	mu            sync.Mutex
	state         State
	nextDue       map[*planner.Group]time.Time
	lastReconnect time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

func newDevice(cfg DeviceConfig, conn Transport, tick time.Duration, cache *Cache, tracker *ErrorTracker, perf *Monitor, onUpdate func(EntityValue), logger Logger) *device {
	ctx, cancel := context.WithCancel(context.Background())
	if tick <= 0 {
		tick = schedulerTick
	}
	return &device{
		cfg:          cfg,
		conn:         conn,
		tickInterval: tick,
		cache:        cache,
		errors:       tracker,
		perf:         perf,
		onUpdate:     onUpdate,
		logger:       logger,
		state:        StateInit,
		nextDue:      make(map[*planner.Group]time.Time),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// swapGeneration installs a new configuration generation and resets the
// schedule so every group is due immediately.
func (d *device) swapGeneration(gen *generation) {
	d.gen.Store(gen)
	d.mu.Lock()
	d.nextDue = make(map[*planner.Group]time.Time, len(gen.groups))
	d.mu.Unlock()
	d.perf.SetPlan(d.cfg.Name, len(gen.groups), gen.polled)
}

func (d *device) start() {
	d.wg.Add(1)
	go d.run()
}

// stop moves the task to unloading, cancels in-flight calls, and waits
// for the goroutine to exit. Results of reads still in flight are
// discarded, not written.
func (d *device) stop() {
	d.stopOnce.Do(func() {
		d.setState(StateUnloading)
		close(d.done)
		d.cancel()
		d.wg.Wait()
		d.setState(StateStopped)
	})
}

// State returns the current lifecycle state.
func (d *device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *device) setState(s State) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	// Unloading is terminal for poll results; a late read must not
	// flip the task back to a live state.
	if d.state == StateUnloading && s != StateStopped {
		d.mu.Unlock()
		return
	}
	from := d.state
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("device state changed",
		"device", d.cfg.Name,
		"from", string(from),
		"to", string(s))
}

func (d *device) run() {
	defer d.wg.Done()

	d.connect()

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// connect makes the initial connection attempt. Failure settles the
// device in the degraded state; polling ticks retry on schedule, so a
// dead endpoint never holds anything up.
func (d *device) connect() {
	d.setState(StateConnecting)
	d.mu.Lock()
	d.lastReconnect = time.Now()
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ConnectTimeout)
	err := d.conn.Connect(ctx)
	cancel()
	if err != nil {
		d.setState(StateDegraded)
		d.logger.Warn("device unreachable, will retry on schedule",
			"device", d.cfg.Name,
			"endpoint", d.cfg.Transport.Endpoint(),
			"error", err)
		return
	}
	d.setState(StateConnected)
	d.logger.Info("device connected",
		"device", d.cfg.Name,
		"endpoint", d.cfg.Transport.Endpoint())
}

func (d *device) tick() {
	now := time.Now()
	if !d.conn.IsConnected() {
		d.maybeReconnect(now)
	}

	gen := d.gen.Load()
	if gen == nil {
		return
	}
	due := d.dueGroups(gen, now)
	for i, g := range due {
		if d.State() == StateUnloading {
			return
		}
		d.readGroup(gen, g)
		if i < len(due)-1 && d.cfg.InterRequestDelay > 0 {
			select {
			case <-d.done:
				return
			case <-time.After(d.cfg.InterRequestDelay):
			}
		}
	}
}

// maybeReconnect attempts a new connection when the reconnect interval
// has elapsed since the last attempt.
func (d *device) maybeReconnect(now time.Time) {
	d.mu.Lock()
	due := now.Sub(d.lastReconnect) >= d.cfg.ReconnectInterval
	if due {
		d.lastReconnect = now
	}
	d.mu.Unlock()
	if !due {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ConnectTimeout)
	err := d.conn.Connect(ctx)
	cancel()
	if err != nil {
		d.logger.Debug("reconnect failed",
			"device", d.cfg.Name,
			"endpoint", d.cfg.Transport.Endpoint(),
			"error", err)
		return
	}
	d.setState(StateConnected)
	d.logger.Info("device reconnected",
		"device", d.cfg.Name,
		"endpoint", d.cfg.Transport.Endpoint())
}

// dueGroups returns the groups whose interval has elapsed, in plan
// order, and schedules their next run.
func (d *device) dueGroups(gen *generation, now time.Time) []*planner.Group {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []*planner.Group
	for _, g := range gen.groups {
		next, ok := d.nextDue[g]
		if ok && now.Before(next) {
			continue
		}
		d.nextDue[g] = now.Add(g.ScanInterval)
		due = append(due, g)
	}
	return due
}

// readGroup executes one planned read and stores the member values.
// A failed read marks every member unavailable for this cycle; sibling
// groups are untouched and the group retries at its next natural tick.
func (d *device) readGroup(gen *generation, g *planner.Group) {
	start := time.Now()
	words, err := d.conn.Read(d.ctx, g.SlaveID, tableFor(g.RegisterType), g.Start, g.Count)
	elapsed := time.Since(start)

	sample := Sample{
		Device:   d.cfg.Name,
		Group:    g.String(),
		Duration: elapsed,
		Success:  err == nil,
		At:       start,
	}
	if err == nil {
		sample.Words = g.Count
	}
	d.perf.Record(sample)

	// Results landing after an unload or a generation swap are stale.
	if d.State() == StateUnloading || d.gen.Load() != gen {
		return
	}

	if err != nil {
		d.groupFailed(g, err)
		return
	}

	d.setState(StateConnected)
	for _, spec := range g.Registers {
		d.storeMember(g, spec, words)
	}
}

func (d *device) groupFailed(g *planner.Group, err error) {
	if errors.Is(err, transport.ErrConnect) || errors.Is(err, transport.ErrNotConnected) {
		d.setState(StateDegraded)
	}
	kind := classify(err)
	for _, spec := range g.Registers {
		d.errors.Failure(d.cfg.Name, spec.UniqueID, kind, spec.Optional, err)
	}
	for _, ev := range d.cache.MarkUnavailable(d.cfg.Name, g.Registers, time.Now()) {
		d.emit(ev)
	}
}

// storeMember decodes one member's words out of the group result and
// writes the cache.
func (d *device) storeMember(g *planner.Group, spec *template.RegisterSpec, words []uint16) {
	off := int(spec.Address) - int(g.Start)
	v, err := value.Decode(words[off:off+spec.Words], spec)
	now := time.Now()
	if err != nil {
		d.errors.Failure(d.cfg.Name, spec.UniqueID, "decode", spec.Optional, err)
		for _, ev := range d.cache.MarkUnavailable(d.cfg.Name, []*template.RegisterSpec{spec}, now) {
			d.emit(ev)
		}
		return
	}

	d.errors.Success(d.cfg.Name, spec.UniqueID)

	available := true
	if spec.DependsOn != nil {
		available = dependencyMet(d.cache, spec.DependsOn)
	}
	ev := EntityValue{
		UniqueID:  spec.UniqueID,
		Device:    d.cfg.Name,
		Name:      spec.Name,
		Value:     v,
		Unit:      spec.Unit,
		Updated:   now,
		Available: available,
	}
	if d.cache.Put(ev) {
		d.emit(ev)
	}
}

// command encodes and writes a control value immediately, outside the
// poll schedule. The transport outcome is the caller's result; polling
// availability is not affected by a failed write.
func (d *device) command(ctx context.Context, spec *template.RegisterSpec, target any) error {
	if !spec.Writable() {
		return fmt.Errorf("%w: %s", ErrNotWritable, spec.UniqueID)
	}
	if spec.DependsOn != nil && !dependencyMet(d.cache, spec.DependsOn) {
		return fmt.Errorf("%w: %s dependency on %s not met",
			ErrUnavailable, spec.UniqueID, spec.DependsOn.UniqueID)
	}

	words, err := d.encodeCommand(spec, target)
	if err != nil {
		return err
	}

	if err := d.conn.Write(ctx, d.slaveFor(spec), spec.Address, words); err != nil {
		return fmt.Errorf("write %s: %w", spec.UniqueID, err)
	}
	d.logger.Debug("command written",
		"device", d.cfg.Name,
		"entity", spec.UniqueID,
		"address", spec.Address,
		"words", len(words))

	// Reflect the commanded state immediately; the next poll confirms.
	if spec.Polled() {
		if v, err := value.Decode(words, spec); err == nil {
			ev := EntityValue{
				UniqueID:  spec.UniqueID,
				Device:    d.cfg.Name,
				Name:      spec.Name,
				Value:     v,
				Unit:      spec.Unit,
				Updated:   time.Now(),
				Available: true,
			}
			if d.cache.Put(ev) {
				d.emit(ev)
			}
		}
	}
	return nil
}

// encodeCommand turns a command value into register words, inverting
// the register's transform for numbers and reversing the symbolic maps
// for selects and switches.
func (d *device) encodeCommand(spec *template.RegisterSpec, target any) ([]uint16, error) {
	switch spec.Control {
	case template.ControlNumber:
		num, ok := numericTarget(target)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a number, got %T", ErrBadValue, spec.UniqueID, target)
		}
		if lo, ok := d.bound(spec.MinFrom, spec.MinValue, spec.HasMin); ok && num < lo {
			return nil, fmt.Errorf("%w: %s: %v below minimum %v", ErrBadValue, spec.UniqueID, num, lo)
		}
		if hi, ok := d.bound(spec.MaxFrom, spec.MaxValue, spec.HasMax); ok && num > hi {
			return nil, fmt.Errorf("%w: %s: %v above maximum %v", ErrBadValue, spec.UniqueID, num, hi)
		}
		words, err := value.EncodeNumber(num, spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadValue, spec.UniqueID, err)
		}
		return words, nil

	case template.ControlSelect:
		label, ok := target.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants an option label, got %T", ErrBadValue, spec.UniqueID, target)
		}
		raw, ok := spec.OptionValues[label]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an option of %s", ErrBadValue, label, spec.UniqueID)
		}
		return value.EncodeRaw(raw, spec)

	case template.ControlSwitch:
		on, ok := boolTarget(target)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants on or off, got %v", ErrBadValue, spec.UniqueID, target)
		}
		raw := uint64(spec.SwitchOff)
		if on {
			raw = uint64(spec.SwitchOn)
		}
		return value.EncodeRaw(raw, spec)

	case template.ControlButton:
		return value.EncodeRaw(uint64(spec.PressValue), spec)

	default:
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, spec.UniqueID)
	}
}

// bound resolves one control limit: a dynamic register reference first,
// its fallback second, the fixed declaration last.
func (d *device) bound(ref *template.BoundRef, fixed float64, has bool) (float64, bool) {
	if ref != nil {
		if ev, ok := d.cache.Get(ref.UniqueID); ok && ev.Available && ev.Value.Kind == value.KindNumber {
			return ev.Value.Number, true
		}
		if ref.HasFallback {
			return ref.Fallback, true
		}
	}
	if has {
		return fixed, true
	}
	return 0, false
}

func (d *device) slaveFor(spec *template.RegisterSpec) uint8 {
	if spec.SlaveID != 0 {
		return spec.SlaveID
	}
	return d.cfg.SlaveID
}

func (d *device) emit(ev EntityValue) {
	if d.onUpdate != nil {
		d.onUpdate(ev)
	}
}

func tableFor(rt template.RegisterType) transport.Table {
	if rt == template.RegisterInput {
		return transport.TableInput
	}
	return transport.TableHolding
}

// classify names a read failure kind for error records.
func classify(err error) string {
	switch {
	case errors.Is(err, transport.ErrConnect), errors.Is(err, transport.ErrNotConnected):
		return "connect"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrProtocol):
		return "protocol"
	default:
		return "transport"
	}
}

func numericTarget(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func boolTarget(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
	}
	return false, false
}
