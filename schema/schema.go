// Package schema derives DynamoDB table names and key schemas from the collection hierarchy.
//
// A root collection maps to a table of the same name keyed by id. A nested collection maps to
// <parentTable>__<collection>, keyed by parentId (HASH) and id (RANGE), at any depth.
package schema

import (
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// Separator joins a parent table name and a child collection name.
	Separator = "__"

	// AttrID is the key attribute holding the document ID.
	AttrID = "id"

	// AttrParentID is the key attribute holding the ancestor chain of a nested document.
	AttrParentID = "parentId"
)

// TableKeySchema is the key layout of a table. An empty SortKey means the table has none.
type TableKeySchema struct {
	PartitionKey string
	SortKey      string
}

// HasSortKey reports whether the schema declares a sort key.
func (k TableKeySchema) HasSortKey() bool { return k.SortKey != "" }

// KeySchema returns the DynamoDB key schema, partition key first.
func (k TableKeySchema) KeySchema() []types.KeySchemaElement {
	elems := []types.KeySchemaElement{
		{AttributeName: aws.String(k.PartitionKey), KeyType: types.KeyTypeHash},
	}
	if k.HasSortKey() {
		elems = append(elems, types.KeySchemaElement{AttributeName: aws.String(k.SortKey), KeyType: types.KeyTypeRange})
	}
	return elems
}

// AttributeDefinitions returns the key attribute definitions. Every key attribute is a string.
func (k TableKeySchema) AttributeDefinitions() []types.AttributeDefinition {
	defs := []types.AttributeDefinition{
		{AttributeName: aws.String(k.PartitionKey), AttributeType: types.ScalarAttributeTypeS},
	}
	if k.HasSortKey() {
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(k.SortKey), AttributeType: types.ScalarAttributeTypeS})
	}
	return defs
}

func (k TableKeySchema) String() string {
	if !k.HasSortKey() {
		return k.PartitionKey
	}
	return k.PartitionKey + "+" + k.SortKey
}

// TableName returns the table for collection under parentTable. An empty parentTable denotes a
// root collection.
func TableName(parentTable, collection string) string {
	if parentTable == "" {
		return collection
	}
	return parentTable + Separator + collection
}

// Depth returns the nesting depth encoded in a table name: 0 for root tables.
func Depth(table string) int {
	return strings.Count(table, Separator)
}

// Expected returns the key schema a table must have according to its name.
func Expected(table string) TableKeySchema {
	if Depth(table) == 0 {
		return TableKeySchema{PartitionKey: AttrID}
	}
	return TableKeySchema{PartitionKey: AttrParentID, SortKey: AttrID}
}

// Live extracts the key schema of an existing table.
func Live(desc *types.TableDescription) TableKeySchema {
	var k TableKeySchema
	if desc == nil {
		return k
	}
	for _, e := range desc.KeySchema {
		switch e.KeyType {
		case types.KeyTypeHash:
			k.PartitionKey = aws.ToString(e.AttributeName)
		case types.KeyTypeRange:
			k.SortKey = aws.ToString(e.AttributeName)
		}
	}
	return k
}

// Match reports whether a live table has the expected key schema. The key elements must match
// in order (name and key type), and the attribute definitions must match as a set of
// (name, type) pairs regardless of declaration order.
func Match(desc *types.TableDescription, expected TableKeySchema) bool {
	if desc == nil {
		return false
	}

	want := expected.KeySchema()
	if len(desc.KeySchema) != len(want) {
		return false
	}
	for i, e := range desc.KeySchema {
		if aws.ToString(e.AttributeName) != aws.ToString(want[i].AttributeName) || e.KeyType != want[i].KeyType {
			return false
		}
	}

	live := attributeSet(desc.AttributeDefinitions)
	exp := attributeSet(expected.AttributeDefinitions())
	if len(live) != len(exp) {
		return false
	}
	for i := range live {
		if live[i] != exp[i] {
			return false
		}
	}
	return true
}

func attributeSet(defs []types.AttributeDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, aws.ToString(d.AttributeName)+":"+string(d.AttributeType))
	}
	sort.Strings(out)
	return out
}
