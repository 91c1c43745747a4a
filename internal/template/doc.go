// Package template loads and normalises declarative Modbus device templates.
//
// A template is a YAML document describing every register a device family
// exposes: addresses, data types, scaling, bit operations, symbolic value
// maps, write controls, and the conditions under which a register exists
// on a particular model.
//
// # Template structure
//
//	name: "sun-hybrid"
//	default_prefix: "inverter"
//	dynamic_config:
//	  phases: {default: 1, options: [1, 3]}
//	  valid_models:
//	    SH8.0RT: {phases: 3, rated_power: 8000}
//	sensors:
//	  - name: "{PREFIX} Grid Voltage"
//	    unique_id: "{PREFIX}_grid_voltage"
//	    address: 32066
//	    register_type: input
//	    data_type: uint16
//	    scale: 0.1
//	controls:
//	  - name: "{PREFIX} Export Limit"
//	    unique_id: "{PREFIX}_export_limit"
//	    address: 33046
//	    register_type: holding
//	    data_type: uint16
//	    control: number
//
// Legacy field spellings (input_type, multiplier, shift_bits, a flat
// registers list, swap: word/byte/word_byte) are accepted and normalised
// into the canonical RegisterSpec form at load time, so the rest of the
// engine only ever sees one shape.
//
// # Dynamic configuration
//
// Templates may declare configurable fields (phase counts, module counts,
// battery options) with defaults, plus named model profiles under
// valid_models. ResolveDynamic merges defaults, the selected model profile,
// and per-device user overrides into the value set that conditions are
// evaluated against.
//
// Loading is cached per template name; Reload rescans the directory.
// All lookups are safe for concurrent use.
package template
