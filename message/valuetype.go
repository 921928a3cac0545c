package message

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PopoGonry/iot-data-bridge/errors"
)

// ValueType identifies the declared type of a mapped object's value.
type ValueType string

// Supported value types. Catalog files may use either the long or the
// short spelling ("integer"/"int", "boolean"/"bool", "string"/"str").
const (
	TypeInteger ValueType = "integer"
	TypeFloat   ValueType = "float"
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
)

// ParseValueType normalizes a value-type tag from configuration.
// Unknown tags are an invalid-configuration error: catalogs reject them
// at load time, never at use time.
func ParseValueType(tag string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "integer", "int":
		return TypeInteger, nil
	case "float", "double":
		return TypeFloat, nil
	case "string", "str":
		return TypeString, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown value type %q: %w", tag, errors.ErrInvalidConfig),
			"message", "ParseValueType", "value type tag")
	}
}

// IsValid reports whether vt is one of the canonical value types.
func (vt ValueType) IsValid() bool {
	switch vt {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean:
		return true
	default:
		return false
	}
}

// truthy tokens accepted for boolean casts from strings
var boolTokens = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
	"false": false, "0": false, "no": false, "off": false,
}

// Cast coerces a raw ingress value to the declared value type.
// Raw values arrive from JSON decoding, so numbers are float64 and the
// remaining scalars are string and bool. A value that cannot be coerced
// yields ErrValueCast; the event is dropped, downstream stages never see it.
func Cast(raw any, vt ValueType) (any, error) {
	switch vt {
	case TypeInteger:
		return castInteger(raw)
	case TypeFloat:
		return castFloat(raw)
	case TypeString:
		return castString(raw)
	case TypeBoolean:
		return castBoolean(raw)
	default:
		return nil, castErr(raw, vt, "unknown value type")
	}
}

func castInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return nil, castErr(raw, TypeInteger, "fractional value")
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, castErr(raw, TypeInteger, "non-numeric string")
		}
		return n, nil
	default:
		return nil, castErr(raw, TypeInteger, "unsupported source type")
	}
}

func castFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, castErr(raw, TypeFloat, "non-numeric string")
		}
		return f, nil
	default:
		return nil, castErr(raw, TypeFloat, "unsupported source type")
	}
}

func castString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return nil, castErr(raw, TypeString, "unsupported source type")
	}
}

func castBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, ok := boolTokens[strings.ToLower(strings.TrimSpace(v))]
		if !ok {
			return nil, castErr(raw, TypeBoolean, "unrecognized boolean token")
		}
		return b, nil
	case float64:
		if v == 0 {
			return false, nil
		}
		if v == 1 {
			return true, nil
		}
		return nil, castErr(raw, TypeBoolean, "numeric value is not 0 or 1")
	default:
		return nil, castErr(raw, TypeBoolean, "unsupported source type")
	}
}

func castErr(raw any, vt ValueType, reason string) error {
	return fmt.Errorf("cast %T(%v) to %s: %s: %w", raw, raw, vt, reason, errors.ErrValueCast)
}
