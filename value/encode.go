package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Encode converts a source-native value into a Value.
//
// Supported inputs: nil, bool, every integer and float kind, json.Number, string, []byte
// (base64 string), time.Time, GeoPoint, *GeoPoint, Ref, Value, slices and arrays, and maps
// with string keys. Anything else, including NaN and infinite floats, fails with an
// *EncodingError naming the field path and the runtime type.
func Encode(v any) (Value, error) {
	return encode(v, "")
}

// EncodeFields encodes every entry of a document's field map.
func EncodeFields(fields map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(fields))
	for _, k := range sortedKeys(fields) {
		ev, err := encode(fields[k], k)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func encode(v any, field string) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Number(strconv.FormatUint(x, 10)), nil
	case float32:
		return encodeFloat(float64(x), field, v)
	case float64:
		return encodeFloat(x, field, v)
	case json.Number:
		if _, err := strconv.ParseFloat(string(x), 64); err != nil {
			return Value{}, &EncodingError{Field: field, Type: "json.Number", Err: err}
		}
		return Number(string(x)), nil
	case []byte:
		return String(base64.StdEncoding.EncodeToString(x)), nil
	case time.Time:
		return Timestamp(x), nil
	case *time.Time:
		if x == nil {
			return Null(), nil
		}
		return Timestamp(*x), nil
	case GeoPoint:
		return Geo(x.Latitude, x.Longitude), nil
	case *GeoPoint:
		if x == nil {
			return Null(), nil
		}
		return Geo(x.Latitude, x.Longitude), nil
	case Ref:
		return Reference(string(x)), nil
	case []any:
		return encodeList(len(x), func(i int) any { return x[i] }, field)
	case map[string]any:
		return encodeMap(x, field)
	}
	return encodeReflect(v, field)
}

func encodeFloat(f float64, field string, orig any) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, &EncodingError{Field: field, Type: fmt.Sprintf("%T", orig), Err: fmt.Errorf("non-finite number %v", f)}
	}
	return Float(f), nil
}

func encodeList(n int, at func(int) any, field string) (Value, error) {
	items := make([]Value, n)
	for i := 0; i < n; i++ {
		item, err := encode(at(i), joinField(field, "["+strconv.Itoa(i)+"]"))
		if err != nil {
			return Value{}, err
		}
		items[i] = item
	}
	return List(items...), nil
}

func encodeMap(m map[string]any, field string) (Value, error) {
	out := make(map[string]Value, len(m))
	for _, k := range sortedKeys(m) {
		item, err := encode(m[k], joinField(field, k))
		if err != nil {
			return Value{}, err
		}
		out[k] = item
	}
	return Map(out), nil
}

// encodeReflect handles typed slices, arrays, maps and pointers that the type switch misses
// ([]string, map[string]int64, *int, ...).
func encodeReflect(v any, field string) (Value, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return encode(rv.Elem().Interface(), field)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		return encodeList(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, field)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return Null(), nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeMap(m, field)
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return encodeFloat(rv.Float(), field, v)
	}
	return Value{}, &EncodingError{Field: field, Type: fmt.Sprintf("%T", v)}
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	if len(child) > 0 && child[0] == '[' {
		return parent + child
	}
	return parent + "." + child
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
