package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON writes the portable form of v.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if !json.Valid([]byte(v.s)) {
			return nil, fmt.Errorf("ddbmigrate: invalid number text %q", v.s)
		}
		return []byte(v.s), nil
	case KindString, KindTimestamp, KindReference:
		return json.Marshal(v.s)
	case KindGeoPoint:
		return json.Marshal(v.Portable().m)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("ddbmigrate: unknown value kind %s", v.kind)
}

// UnmarshalJSON reads plain JSON. Type tags are not recoverable from the portable form, so
// timestamps and references come back as strings and points as maps.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromJSON(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return Number(x.String()), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			iv, err := fromJSON(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			iv, err := fromJSON(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = iv
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("ddbmigrate: unexpected JSON value of type %T", raw)
}
