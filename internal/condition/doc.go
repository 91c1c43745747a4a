// Package condition evaluates the boolean expressions that gate register
// definitions in device templates.
//
// Expressions compare dynamic configuration values against literals:
//
//	phases == 3
//	mppt_count >= 2 and connection_type == 'LAN'
//	firmware in ('3.0', '3.1') or modules > 4
//
// Supported comparisons are ==, !=, >, >=, <, <=, in, and not in, joined
// by and/or with parentheses for grouping. "or" binds looser than "and".
// Numeric literals may be decimal, float, or 0x hexadecimal; string
// literals are single or double quoted.
//
// Evaluation fails closed: a malformed expression, an unknown key, or a
// type mismatch makes the whole expression false, so a register guarded
// by a broken condition never becomes active. Validate reports the
// structural problems an author can fix without knowing runtime values.
//
// Evaluation is pure: the same expression and context always produce the
// same result, and nothing is mutated.
package condition
