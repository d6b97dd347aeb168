package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueKind enumerates the scalar types a Value can hold.
type ValueKind int

const (
	NullValue ValueKind = iota
	StringValueKind
	IntValueKind
	FloatValueKind
	BoolValueKind
)

func (k ValueKind) String() string {
	switch k {
	case StringValueKind:
		return "string"
	case IntValueKind:
		return "int"
	case FloatValueKind:
		return "float"
	case BoolValueKind:
		return "bool"
	}
	return "null"
}

// Value is a scalar used in free-form configuration maps
// (additional_config, alerting_rules, metrics, ...).
// Only strings, integers, floats and booleans are allowed.
// The zero Value is null.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: StringValueKind, s: s} }
func IntValue(i int64) Value { return Value{kind: IntValueKind, i: i} }
func FloatValue(f float64) Value { return Value{kind: FloatValueKind, f: f} }
func BoolValue(b bool) Value { return Value{kind: BoolValueKind, b: b} }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == NullValue }
func (v Value) Str() (string, bool) { return v.s, v.kind == StringValueKind }
func (v Value) Int() (int64, bool) { return v.i, v.kind == IntValueKind }
func (v Value) Bool() (bool, bool) { return v.b, v.kind == BoolValueKind }

// Float returns the numeric value of v. Integers are converted.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case FloatValueKind:
		return v.f, true
	case IntValueKind:
		return float64(v.i), true
	}
	return 0, false
}

// Interface returns v as a plain Go value (string, int64, float64, bool or nil).
func (v Value) Interface() any {
	switch v.kind {
	case StringValueKind:
		return v.s
	case IntValueKind:
		return v.i
	case FloatValueKind:
		return v.f
	case BoolValueKind:
		return v.b
	}
	return nil
}

func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case StringValueKind:
		return v.s == w.s
	case IntValueKind:
		return v.i == w.i
	case FloatValueKind:
		return v.f == w.f
	case BoolValueKind:
		return v.b == w.b
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case StringValueKind:
		return v.s
	case IntValueKind:
		return strconv.FormatInt(v.i, 10)
	case FloatValueKind:
		return formatFloat(v.f)
	case BoolValueKind:
		return strconv.FormatBool(v.b)
	}
	return "null"
}

// ValueOf converts a plain Go scalar into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case float64:
		return FloatValue(t), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// formatFloat always yields a float literal (with "." or exponent),
// so that floats do not turn into integers on a round trip.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") { // "n" covers NaN and Inf
		s += ".0"
	}
	return s
}

var errNonScalar = errors.New("only string, number and boolean values are allowed")

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case StringValueKind:
		return json.Marshal(v.s)
	case IntValueKind:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case FloatValueKind:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	case BoolValueKind:
		return []byte(strconv.FormatBool(v.b)), nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s := string(data)
	switch {
	case s == "null":
		*v = Value{}
	case s == "true" || s == "false":
		*v = BoolValue(s == "true")
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*v = StringValue(str)
	case strings.HasPrefix(s, "{") || strings.HasPrefix(s, "["):
		return errNonScalar
	default:
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				*v = IntValue(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %v", s, err)
		}
		*v = FloatValue(f)
	}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if v.kind == FloatValueKind {
		// Force the !!float tag, yaml.v3 would render 2.0 as "2".
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!float",
			Value: formatFloat(v.f),
		}, nil
	}
	return v.Interface(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %w", node.Line, errNonScalar)
	}
	switch node.ShortTag() {
	case "!!null":
		*v = Value{}
	case "!!str":
		*v = StringValue(node.Value)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return err
		}
		*v = IntValue(i)
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = FloatValue(f)
	default:
		return fmt.Errorf("line %d: unsupported tag %s", node.Line, node.ShortTag())
	}
	return nil
}

// Secret is a string that is masked when printed.
// The underlying value is kept when marshalled, so snapshots stay complete;
// use Masked before handing it to untrusted consumers.
type Secret string

const maskedSecret = "**********"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return maskedSecret
}

// Reveal returns the plain text secret.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) Masked() Secret {
	if s == "" {
		return ""
	}
	return maskedSecret
}
