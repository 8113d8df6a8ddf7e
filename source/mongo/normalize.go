package mongo

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/ddbmigrate/value"
)

// typedKeys are the value keys of the Firestore REST representation.
var typedKeys = map[string]bool{
	"nullValue":      true,
	"booleanValue":   true,
	"integerValue":   true,
	"doubleValue":    true,
	"timestampValue": true,
	"stringValue":    true,
	"bytesValue":     true,
	"referenceValue": true,
	"geoPointValue":  true,
	"arrayValue":     true,
	"mapValue":       true,
}

// Normalize converts a decoded BSON field value into types value.Encode accepts.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return nil
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		return decimal(x)
	case primitive.Binary:
		return x.Data
	case primitive.Regex:
		return x.Pattern
	case primitive.Symbol:
		return string(x)
	case primitive.A:
		return normalizeList(x)
	case []any:
		return normalizeList(x)
	case primitive.D:
		return normalizeMap(x.Map())
	case primitive.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	}
	return v
}

func normalizeList(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = Normalize(item)
	}
	return out
}

func normalizeMap(m map[string]any) any {
	if len(m) == 1 {
		for k, v := range m {
			if typedKeys[k] {
				return typed(k, v)
			}
		}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

// typed decodes one Firestore REST typed value.
func typed(kind string, v any) any {
	switch kind {
	case "nullValue":
		return nil
	case "integerValue":
		if s, ok := v.(string); ok {
			return json.Number(s)
		}
		return Normalize(v)
	case "timestampValue":
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
			return s
		}
		return Normalize(v)
	case "referenceValue":
		if s, ok := v.(string); ok {
			return value.Ref(relativeName(s))
		}
		return Normalize(v)
	case "geoPointValue":
		m := asMap(v)
		return value.GeoPoint{Latitude: asFloat(m["latitude"]), Longitude: asFloat(m["longitude"])}
	case "arrayValue":
		values, _ := Normalize(asMap(v)["values"]).([]any)
		if values == nil {
			values = []any{}
		}
		return values
	case "mapValue":
		fields := asMap(asMap(v)["fields"])
		out := make(map[string]any, len(fields))
		for k, f := range fields {
			out[k] = Normalize(f)
		}
		return out
	}
	return Normalize(v)
}

// decimal keeps the decimal text; NaN and infinities become floats so the codec rejects them.
func decimal(d primitive.Decimal128) any {
	if d.IsNaN() {
		return math.NaN()
	}
	if d.IsInf() != 0 {
		return math.Inf(d.IsInf())
	}
	return json.Number(d.String())
}

func asMap(v any) map[string]any {
	switch x := v.(type) {
	case primitive.M:
		return x
	case map[string]any:
		return x
	case primitive.D:
		return x.Map()
	}
	return nil
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func relativeName(name string) string {
	const marker = "/documents/"
	if i := strings.Index(name, marker); i >= 0 {
		return name[i+len(marker):]
	}
	return name
}
