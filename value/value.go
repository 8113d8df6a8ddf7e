// Package value provides the portable field representation shared by every stage of a migration.
//
// Source documents hold loosely typed values (timestamps, geographic points, document references,
// nested maps and lists, primitives). [Encode] maps each of them onto exactly one [Kind] of the
// closed [Value] union. A Value renders to plain JSON for snapshots and to a DynamoDB
// attribute value for writes.
package value

import (
	"sort"
	"strconv"
	"time"
)

// Kind identifies which member of the union a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindTimestamp
	KindGeoPoint
	KindReference
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindNumber:    "number",
	KindString:    "string",
	KindTimestamp: "timestamp",
	KindGeoPoint:  "geopoint",
	KindReference: "reference",
	KindList:      "list",
	KindMap:       "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// TimestampLayout is the ISO-8601 layout used for encoded timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ref is a document reference expressed as a store-relative path (e.g. "users/abc").
// The referenced document is never dereferenced.
type Ref string

// Value is a single field value. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	s    string // number text, string, timestamp, reference path
	geo  GeoPoint
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a number value holding i.
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Float returns a number value holding f. NaN and infinities are rejected by Encode, not here.
func Float(f float64) Value { return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'f', -1, 64)} }

// Number returns a number value from its decimal text. The text is not validated.
func Number(text string) Value { return Value{kind: KindNumber, s: text} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Timestamp returns a timestamp value rendered in UTC with millisecond precision.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, s: t.UTC().Format(TimestampLayout)}
}

// Geo returns a geographic point value.
func Geo(lat, lon float64) Value {
	return Value{kind: KindGeoPoint, geo: GeoPoint{Latitude: lat, Longitude: lon}}
}

// Reference returns a document reference value.
func Reference(path string) Value { return Value{kind: KindReference, s: path} }

// List returns an ordered list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Map returns a map value. A nil map is stored as an empty one.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the union member held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// NumberText returns the decimal text of a number value.
func (v Value) NumberText() (string, bool) { return v.s, v.kind == KindNumber }

// Text returns the string form of a string, timestamp or reference value.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindString, KindTimestamp, KindReference:
		return v.s, true
	}
	return "", false
}

// AsGeo returns the point held by v.
func (v Value) AsGeo() (GeoPoint, bool) { return v.geo, v.kind == KindGeoPoint }

// Items returns the elements of a list value.
func (v Value) Items() []Value { return v.list }

// Fields returns the entries of a map value.
func (v Value) Fields() map[string]Value { return v.m }

// Keys returns the map keys of v in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Portable returns v in its portable form: timestamps and references become strings and
// geographic points become {latitude, longitude} maps. This is the shape a snapshot read back
// from disk has, so two trees compare equal after a snapshot round trip iff their portable
// forms are equal.
func (v Value) Portable() Value {
	switch v.kind {
	case KindTimestamp, KindReference:
		return String(v.s)
	case KindGeoPoint:
		return Map(map[string]Value{
			"latitude":  Float(v.geo.Latitude),
			"longitude": Float(v.geo.Longitude),
		})
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Portable()
		}
		return List(out...)
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			out[k] = item.Portable()
		}
		return Map(out)
	}
	return v
}

// Equal reports whether a and b hold the same kind and contents.
// Numbers compare by their decimal text.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindGeoPoint:
		return a.geo == b.geo
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return EqualFields(a.m, b.m)
	}
	return a.s == b.s
}

// EqualFields reports whether two field maps hold the same keys with equal values.
func EqualFields(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// PortableFields applies Portable to every entry of fields.
func PortableFields(fields map[string]Value) map[string]Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = v.Portable()
	}
	return out
}
