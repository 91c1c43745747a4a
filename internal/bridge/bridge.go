package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-modbus-core/internal/poller"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one register write, including the Modbus
	// round trip.
	commandTimeout = 10 * time.Second

	// defaultAvailabilityInterval is how often device reachability is
	// checked against the last published availability state.
	defaultAvailabilityInterval = 30 * time.Second

	// stateQueueSize bounds the value update queue. State topics are
	// retained latest-value, so dropping under sustained overload loses
	// intermediate readings only.
	stateQueueSize = 256

	// commandTopicParts is the exact part count of a command topic:
	// graymodbus/command/{unique_id}.
	commandTopicParts = 3
)

// Engine is the coordinator surface the bridge drives. Satisfied by
// *poller.Coordinator.
type Engine interface {
	// Command writes a value to a writable register entity.
	Command(ctx context.Context, uniqueID string, target any) error

	// Devices returns the status of every configured device.
	Devices() []poller.DeviceStatus
}

// MQTTClient is the broker surface the bridge publishes through.
// Satisfied by *mqtt.Client.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger is the logging surface used by the bridge.
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

// Options holds configuration for creating a bridge.
type Options struct {
	// Engine is the coordinator facade. Required.
	Engine Engine

	// Client is the connected MQTT client. Required.
	Client MQTTClient

	// QoS is the quality of service for published messages (0-2).
	QoS int

	// AvailabilityInterval overrides how often device reachability is
	// re-checked. Zero uses the default.
	AvailabilityInterval time.Duration

	// OnCommand, when set, is invoked after every completed command
	// with its outcome. Used to feed the audit trail.
	OnCommand func(cmd CommandMessage, uniqueID string, err error)

	// Logger receives bridge log output. Nil discards it.
	Logger Logger
}

// Bridge connects the polling engine to the MQTT broker: cache updates
// flow out as retained state topics, commands flow in from command
// topics, and device reachability is mirrored to availability topics.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	engine    Engine
	client    MQTTClient
	qos       byte
	interval  time.Duration
	onCommand func(cmd CommandMessage, uniqueID string, err error)
	logger    Logger

	// updates queues cache changes for the publisher goroutine so the
	// device poll loops never block on the broker.
	updates chan poller.EntityValue

	// avail tracks the last published availability per device.
	avail   map[string]bool
	availMu sync.Mutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, errors.New("bridge: engine is required")
	}
	if opts.Client == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if opts.QoS < 0 || opts.QoS > 2 {
		return nil, fmt.Errorf("bridge: invalid QoS %d", opts.QoS)
	}

	interval := opts.AvailabilityInterval
	if interval <= 0 {
		interval = defaultAvailabilityInterval
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		engine:    opts.Engine,
		client:    opts.Client,
		qos:       byte(opts.QoS),
		interval:  interval,
		onCommand: opts.OnCommand,
		logger:    logger,
		updates:   make(chan poller.EntityValue, stateQueueSize),
		avail:     make(map[string]bool),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
	}, nil
}

// Start subscribes to command topics and starts the publisher and
// availability loops.
func (b *Bridge) Start() error {
	commandTopic := mqtt.Topics{}.AllCommands()
	if err := b.client.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	b.publishAvailability()

	b.wg.Add(2)
	go b.publishLoop()
	go b.availabilityLoop()

	b.logger.Info("mqtt bridge started")
	return nil
}

// Stop shuts the bridge down, abandoning any queued state updates.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// PublishValue queues one cache change for publication. Safe to call
// from the engine's update callback; never blocks. Updates are dropped
// when the queue is full.
func (b *Bridge) PublishValue(ev poller.EntityValue) {
	select {
	case b.updates <- ev:
	default:
		b.logger.Warn("state update queue full, dropping update",
			"unique_id", ev.UniqueID)
	}
}

// publishLoop drains the update queue onto retained state topics.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.updates:
			b.publishState(ev)
		}
	}
}

func (b *Bridge) publishState(ev poller.EntityValue) {
	payload, err := json.Marshal(NewStateMessage(ev))
	if err != nil {
		b.logger.Error("failed to marshal state", "unique_id", ev.UniqueID, "error", err)
		return
	}

	topic := mqtt.Topics{}.State(ev.Device, ev.UniqueID)
	if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish state",
			"topic", topic,
			"error", err)
	}
}

// availabilityLoop re-checks device reachability on a fixed interval.
func (b *Bridge) availabilityLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.publishAvailability()
		}
	}
}

// publishAvailability publishes availability for every device whose
// reachability differs from the last published state. Retained topics
// carry the latest state to new subscribers.
func (b *Bridge) publishAvailability() {
	for _, dev := range b.engine.Devices() {
		b.availMu.Lock()
		last, seen := b.avail[dev.Name]
		changed := !seen || last != dev.Connected
		if changed {
			b.avail[dev.Name] = dev.Connected
		}
		b.availMu.Unlock()

		if !changed {
			continue
		}

		status := AvailabilityOffline
		if dev.Connected {
			status = AvailabilityOnline
		}
		msg := AvailabilityMessage{
			Device:    dev.Name,
			Status:    status,
			Timestamp: time.Now().UTC(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logger.Error("failed to marshal availability", "device", dev.Name, "error", err)
			continue
		}

		topic := mqtt.Topics{}.DeviceAvailability(dev.Name)
		if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
			b.logger.Warn("failed to publish availability",
				"topic", topic,
				"error", err)
			continue
		}
		b.logger.Debug("device availability changed",
			"device", dev.Name,
			"status", status)
	}
}

// handleCommandMessage processes one payload from a command topic.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[len(parts)-1] == "" {
		return fmt.Errorf("malformed command topic %q", topic)
	}
	uniqueID := parts[len(parts)-1]

	cmd, err := ParseCommand(payload)
	if err != nil {
		b.publishAck(NewAck(cmd, uniqueID, err))
		return fmt.Errorf("command on %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	cmdErr := b.engine.Command(ctx, uniqueID, cmd.Value)
	if cmdErr != nil {
		b.logger.Warn("command failed",
			"unique_id", uniqueID,
			"error", cmdErr)
	} else {
		b.logger.Info("command executed",
			"unique_id", uniqueID,
			"source", cmd.Source)
	}

	b.publishAck(NewAck(cmd, uniqueID, cmdErr))
	if b.onCommand != nil {
		b.onCommand(cmd, uniqueID, cmdErr)
	}
	return cmdErr
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "unique_id", ack.UniqueID, "error", err)
		return
	}

	topic := mqtt.Topics{}.Ack(ack.UniqueID)
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish ack",
			"topic", topic,
			"error", err)
	}
}
