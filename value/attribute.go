package value

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeValue converts v to its DynamoDB form. Timestamps and references are written as
// plain strings and geographic points as {latitude, longitude} number maps.
func (v Value) AttributeValue() types.AttributeValue {
	switch v.kind {
	case KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.b}
	case KindNumber:
		return &types.AttributeValueMemberN{Value: v.s}
	case KindString, KindTimestamp, KindReference:
		return &types.AttributeValueMemberS{Value: v.s}
	case KindGeoPoint:
		return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"latitude":  &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.geo.Latitude, 'f', -1, 64)},
			"longitude": &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.geo.Longitude, 'f', -1, 64)},
		}}
	case KindList:
		items := make([]types.AttributeValue, len(v.list))
		for i, item := range v.list {
			items[i] = item.AttributeValue()
		}
		return &types.AttributeValueMemberL{Value: items}
	case KindMap:
		return &types.AttributeValueMemberM{Value: AttributeMap(v.m)}
	}
	return &types.AttributeValueMemberNULL{Value: true}
}

// AttributeMap converts a field map to a DynamoDB item.
func AttributeMap(fields map[string]Value) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(fields))
	for k, v := range fields {
		out[k] = v.AttributeValue()
	}
	return out
}

// FromAttributeValue decodes a DynamoDB attribute into its portable Value.
// String, number and binary sets become lists; binary becomes a base64 string.
func FromAttributeValue(av types.AttributeValue) (Value, error) {
	switch x := av.(type) {
	case nil:
		return Null(), nil
	case *types.AttributeValueMemberNULL:
		return Null(), nil
	case *types.AttributeValueMemberBOOL:
		return Bool(x.Value), nil
	case *types.AttributeValueMemberN:
		var n float64
		if err := attributevalue.Unmarshal(x, &n); err != nil {
			return Value{}, fmt.Errorf("decode number %q: %w", x.Value, err)
		}
		return Number(x.Value), nil
	case *types.AttributeValueMemberS:
		return String(x.Value), nil
	case *types.AttributeValueMemberB:
		return String(base64.StdEncoding.EncodeToString(x.Value)), nil
	case *types.AttributeValueMemberL:
		items := make([]Value, len(x.Value))
		for i, item := range x.Value {
			iv, err := FromAttributeValue(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return List(items...), nil
	case *types.AttributeValueMemberM:
		m, err := FromAttributeMap(x.Value)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case *types.AttributeValueMemberSS:
		items := make([]Value, len(x.Value))
		for i, s := range x.Value {
			items[i] = String(s)
		}
		return List(items...), nil
	case *types.AttributeValueMemberNS:
		items := make([]Value, len(x.Value))
		for i, s := range x.Value {
			items[i] = Number(s)
		}
		return List(items...), nil
	case *types.AttributeValueMemberBS:
		items := make([]Value, len(x.Value))
		for i, b := range x.Value {
			items[i] = String(base64.StdEncoding.EncodeToString(b))
		}
		return List(items...), nil
	}
	return Value{}, fmt.Errorf("ddbmigrate: unsupported attribute value %T", av)
}

// FromAttributeMap decodes a DynamoDB item into a field map.
func FromAttributeMap(item map[string]types.AttributeValue) (map[string]Value, error) {
	out := make(map[string]Value, len(item))
	for k, av := range item {
		v, err := FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
