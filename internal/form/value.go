package form

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the scalar type carried by a FieldValue.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// FieldValue is a tagged scalar union. Form data arrives as untyped
// JSON; modeling it as a closed union instead of interface{} keeps
// comparisons, cloning, and serialization deterministic.
type FieldValue struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// String wraps a string value.
func String(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// Number wraps a numeric value.
func Number(n float64) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }

// Boolean wraps a bool value.
func Boolean(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// Timestamp wraps a time value.
func Timestamp(t time.Time) FieldValue { return FieldValue{Kind: KindTime, Time: t.UTC()} }

// Null is the absent value.
func Null() FieldValue { return FieldValue{Kind: KindNull} }

// FromAny converts a decoded JSON/YAML scalar into a FieldValue.
// Unrecognized types are stringified.
func FromAny(v interface{}) FieldValue {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return String(x)
	case bool:
		return Boolean(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case time.Time:
		return Timestamp(x)
	case FieldValue:
		return x
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// IsNull reports whether the value is absent.
func (v FieldValue) IsNull() bool { return v.Kind == KindNull }

// AsString returns the string value. Non-string kinds report false.
func (v FieldValue) AsString() (string, bool) {
	if v.Kind == KindString {
		return v.Str, true
	}
	return "", false
}

// AsFloat returns the numeric value. Numeric strings coerce.
func (v FieldValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsInt returns the value truncated to an int.
func (v FieldValue) AsInt() (int, bool) {
	f, ok := v.AsFloat()
	if !ok {
		return 0, false
	}
	return int(f), true
}

// AsBool returns the boolean value. The strings "true"/"false"/"yes"/
// "no" coerce.
func (v FieldValue) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// AsTime returns the time value. RFC 3339 and date-only strings coerce.
func (v FieldValue) AsTime() (time.Time, bool) {
	switch v.Kind {
	case KindTime:
		return v.Time, true
	case KindString:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Equal reports semantic equality across coercible kinds.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Kind == other.Kind {
		switch v.Kind {
		case KindNull:
			return true
		case KindString:
			return v.Str == other.Str
		case KindNumber:
			return v.Num == other.Num
		case KindBool:
			return v.Bool == other.Bool
		case KindTime:
			return v.Time.Equal(other.Time)
		}
	}
	// Cross-kind numeric comparison ("4" == 4).
	if a, ok := v.AsFloat(); ok {
		if b, ok2 := other.AsFloat(); ok2 {
			return a == b
		}
	}
	return false
}

// String renders the value for messages and logs.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	}
	return ""
}

// MarshalJSON emits the underlying scalar, not the union wrapper, so
// serialized contexts look like ordinary form data.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339))
	}
	return []byte("null"), nil
}

// UnmarshalJSON sniffs the scalar type.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// MarshalYAML emits the underlying scalar.
func (v FieldValue) MarshalYAML() (interface{}, error) {
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindNumber:
		return v.Num, nil
	case KindBool:
		return v.Bool, nil
	case KindTime:
		return v.Time.Format(time.RFC3339), nil
	}
	return nil, nil
}

// UnmarshalYAML sniffs the scalar type.
func (v *FieldValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Values is a field-value map, the flat form-data snapshot every
// component reads.
type Values map[FieldID]FieldValue

// Get returns the value for a field.
func (vals Values) Get(f FieldID) (FieldValue, bool) {
	v, ok := vals[f]
	return v, ok
}

// Has reports whether the field has a non-null value.
func (vals Values) Has(f FieldID) bool {
	v, ok := vals[f]
	return ok && !v.IsNull()
}

// Set stores a value, allocating the map if needed, and returns the
// (possibly new) map.
func (vals Values) Set(f FieldID, v FieldValue) Values {
	if vals == nil {
		vals = make(Values)
	}
	vals[f] = v
	return vals
}

// Clone deep-copies the map.
func (vals Values) Clone() Values {
	if vals == nil {
		return nil
	}
	out := make(Values, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

// SortedFields returns the field ids in lexical order.
func (vals Values) SortedFields() []FieldID {
	ids := make([]FieldID, 0, len(vals))
	for f := range vals {
		ids = append(ids, f)
	}
	return SortFieldIDs(ids)
}
