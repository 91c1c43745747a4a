package mqtt

import "fmt"

// Topic prefixes for the Gray Modbus MQTT surface.
//
// All topics use the flat scheme: graymodbus/{category}/{...}
// State and availability topics are retained so late subscribers see the
// current reading immediately; command and ack topics are not.
const (
	// TopicPrefix is the base for all engine topics.
	TopicPrefix = "graymodbus"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graymodbus/system"
)

// Topics provides builders for Gray Modbus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("heat-pump", "hp_flow_temp")
//	// Returns: "graymodbus/state/heat-pump/hp_flow_temp"
type Topics struct{}

// State returns the retained state topic for one register entity.
//
// Example: graymodbus/state/heat-pump/hp_flow_temp
func (Topics) State(device, uniqueID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, device, uniqueID)
}

// Command returns the command intake topic for a writable register.
//
// Example: graymodbus/command/hp_target_temp
func (Topics) Command(uniqueID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, uniqueID)
}

// Ack returns the topic for command results.
//
// Example: graymodbus/ack/hp_target_temp
func (Topics) Ack(uniqueID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, uniqueID)
}

// DeviceAvailability returns the retained availability topic for a device.
//
// Example: graymodbus/availability/heat-pump
func (Topics) DeviceAvailability(device string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, device)
}

// SystemStatus returns the engine status topic. This carries the LWT and
// the online/offline lifecycle messages.
//
// Example: graymodbus/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCommands returns a pattern matching every command topic.
//
// Pattern: graymodbus/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllStates returns a pattern matching every entity state topic.
//
// Pattern: graymodbus/state/+/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllAvailability returns a pattern matching every device availability topic.
//
// Pattern: graymodbus/availability/+
func (Topics) AllAvailability() string {
	return fmt.Sprintf("%s/availability/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Gray Modbus topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graymodbus/#
func (Topics) AllTopics() string {
	return "graymodbus/#"
}
