package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// RunParameters holds the parameters that, together with the work unit
// name, identify a logical run.
type RunParameters struct {
	Params map[string]interface{}
}

// NewRunParameters creates a new empty RunParameters.
func NewRunParameters() RunParameters {
	return RunParameters{Params: make(map[string]interface{})}
}

// Put sets a value with the specified key.
func (rp RunParameters) Put(key string, value interface{}) {
	rp.Params[key] = value
}

// Get retrieves the value for the specified key, or nil if absent.
func (rp RunParameters) Get(key string) interface{} {
	val, ok := rp.Params[key]
	if !ok {
		return nil
	}
	return val
}

// GetString retrieves the value for the specified key as a string.
func (rp RunParameters) GetString(key string) (string, bool) {
	val, ok := rp.Params[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
func (rp RunParameters) GetInt(key string) (int, bool) {
	val, ok := rp.Params[key]
	if !ok {
		return 0, false
	}
	// Numbers round-tripped through JSON come back as float64.
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// GetInt64 retrieves the value for the specified key as an int64.
func (rp RunParameters) GetInt64(key string) (int64, bool) {
	val, ok := rp.Params[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// GetBool retrieves the value for the specified key as a bool.
func (rp RunParameters) GetBool(key string) (bool, bool) {
	val, ok := rp.Params[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// Equal compares two RunParameters for equality, tolerating numeric
// type differences introduced by JSON round-trips.
func (rp RunParameters) Equal(other RunParameters) bool {
	if len(rp.Params) != len(other.Params) {
		return false
	}
	for key, a := range rp.Params {
		b, ok := other.Params[key]
		if !ok {
			return false
		}
		if !equalWithNumericTolerance(a, b) {
			return false
		}
	}
	return true
}

// equalWithNumericTolerance compares values, treating all numeric types
// through float64. Non-numeric values fall back to reflect.DeepEqual.
func equalWithNumericTolerance(a, b interface{}) bool {
	if isNumeric(a) && isNumeric(b) {
		return toFloat64(a) == toFloat64(b)
	}
	return reflect.DeepEqual(a, b)
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func toFloat64(v interface{}) float64 {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// Hash calculates the canonical hash of the parameters. Parameters are
// rendered to canonical JSON first so the hash is independent of map
// iteration order and of int/float representation differences.
func (rp RunParameters) Hash() (string, error) {
	normalized, err := rp.toCanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal run parameters to canonical JSON for hash calculation: %w", err)
	}
	hasher := sha256.New()
	hasher.Write([]byte(normalized))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts the parameters to a canonical JSON string
// with sorted keys and float64-normalized numbers.
func (rp RunParameters) toCanonicalJSON() (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		if isNumeric(val) {
			val = toFloat64(val)
		}
		if m, ok := val.(map[string]interface{}); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var sb strings.Builder
			sb.WriteString("{")
			for i, k := range keys {
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return nil, err
				}
				valBytes, err := marshalCanonical(m[k])
				if err != nil {
					return nil, err
				}
				sb.Write(keyBytes)
				sb.WriteString(":")
				sb.Write(valBytes)
				if i < len(keys)-1 {
					sb.WriteString(",")
				}
			}
			sb.WriteString("}")
			return []byte(sb.String()), nil
		}
		return json.Marshal(val)
	}

	jsonBytes, err := marshalCanonical(rp.Params)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// maskedKeySubstrings marks parameter keys whose values are masked when
// parameters are stringified for logs.
var maskedKeySubstrings = []string{"password", "secret", "token", "credential", "apikey", "api_key"}

// AddMaskedKeys extends the masked key substrings, typically from the
// security section of the configuration. Call before starting runs.
func AddMaskedKeys(keys ...string) {
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			maskedKeySubstrings = append(maskedKeySubstrings, k)
		}
	}
}

// String returns the JSON representation of the parameters with
// sensitive values masked.
func (rp RunParameters) String() string {
	masked := make(map[string]interface{}, len(rp.Params))
	for key, val := range rp.Params {
		lower := strings.ToLower(key)
		hidden := false
		for _, sub := range maskedKeySubstrings {
			if strings.Contains(lower, sub) {
				hidden = true
				break
			}
		}
		if hidden {
			masked[key] = "******"
		} else {
			masked[key] = val
		}
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal masked parameters: %v]}", err)
	}
	return string(data)
}

// Value implements the `driver.Valuer` interface, converting the
// parameters to a JSON string for persistence.
func (rp RunParameters) Value() (driver.Value, error) {
	if rp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(rp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string
// back into RunParameters.
func (rp *RunParameters) Scan(value interface{}) error {
	if value == nil {
		rp.Params = make(map[string]interface{})
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RunParameters: %T", value)
	}

	if len(b) == 0 {
		rp.Params = make(map[string]interface{})
		return nil
	}

	if err := json.Unmarshal(b, &rp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal RunParameters JSON: %w", err)
	}
	return nil
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting the list
// to a JSON string for persistence.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string
// back into a FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}
