// Package ddbfake is an in-memory stand-in for the DynamoDB table and batch-write API, for
// tests and local dry runs.
package ddbfake

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbmigrate/store"
)

// Client keeps tables and items in memory. New tables are ACTIVE immediately.
type Client struct {
	mu         sync.Mutex
	tables     map[string]*types.TableDescription
	items      map[string]map[string]store.Item
	batchErrs  map[string]error
	createErrs map[string]error

	creates int
	deletes int
	batches int
}

var _ store.Client = (*Client)(nil)

// New returns an empty Client.
func New() *Client {
	return &Client{
		tables:     make(map[string]*types.TableDescription),
		items:      make(map[string]map[string]store.Item),
		batchErrs:  make(map[string]error),
		createErrs: make(map[string]error),
	}
}

// AddTable registers an existing ACTIVE table.
func (c *Client) AddTable(name string, keys []types.KeySchemaElement, defs []types.AttributeDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[name] = &types.TableDescription{
		TableName:            aws.String(name),
		TableStatus:          types.TableStatusActive,
		KeySchema:            keys,
		AttributeDefinitions: defs,
	}
}

// FailBatches makes every BatchWriteItem call on table fail with err. A nil err clears it.
func (c *Client) FailBatches(table string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchErrs[table] = err
}

// FailCreate makes CreateTable of table fail with err.
func (c *Client) FailCreate(table string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createErrs[table] = err
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + name)}
}

func (c *Client) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := aws.ToString(in.TableName)
	desc, ok := c.tables[name]
	if !ok {
		return nil, notFound(name)
	}
	cp := *desc
	return &dynamodb.DescribeTableOutput{Table: &cp}, nil
}

func (c *Client) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	name := aws.ToString(in.TableName)
	if err := c.createErrs[name]; err != nil {
		return nil, err
	}
	if _, ok := c.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	desc := &types.TableDescription{
		TableName:            aws.String(name),
		TableStatus:          types.TableStatusActive,
		KeySchema:            in.KeySchema,
		AttributeDefinitions: in.AttributeDefinitions,
		BillingModeSummary:   &types.BillingModeSummary{BillingMode: in.BillingMode},
	}
	c.tables[name] = desc
	return &dynamodb.CreateTableOutput{TableDescription: desc}, nil
}

func (c *Client) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	name := aws.ToString(in.TableName)
	desc, ok := c.tables[name]
	if !ok {
		return nil, notFound(name)
	}
	delete(c.tables, name)
	delete(c.items, name)
	return &dynamodb.DeleteTableOutput{TableDescription: desc}, nil
}

func (c *Client) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	for table, reqs := range in.RequestItems {
		if err := c.batchErrs[table]; err != nil {
			return nil, err
		}
		if _, ok := c.tables[table]; !ok {
			return nil, notFound(table)
		}
		if c.items[table] == nil {
			c.items[table] = make(map[string]store.Item)
		}
		for _, req := range reqs {
			if req.PutRequest == nil {
				continue
			}
			c.items[table][Key(req.PutRequest.Item)] = req.PutRequest.Item
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// Key returns the primary key of item as "parentId|id", or "id" for items without a parentId.
func Key(item store.Item) string {
	id := stringAttr(item, "id")
	if parent, ok := item["parentId"]; ok {
		if s, ok := parent.(*types.AttributeValueMemberS); ok {
			return s.Value + "|" + id
		}
	}
	return id
}

func stringAttr(item store.Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// Item returns the item stored under key in table.
func (c *Client) Item(table, key string) (store.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[table][key]
	return item, ok
}

// Count returns the number of items in table.
func (c *Client) Count(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items[table])
}

// Keys returns the sorted item keys of table.
func (c *Client) Keys(table string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items[table]))
	for k := range c.items[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tables returns the sorted names of existing tables.
func (c *Client) Tables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table returns the description of an existing table.
func (c *Client) Table(name string) (*types.TableDescription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	desc, ok := c.tables[name]
	return desc, ok
}

// Calls returns how many CreateTable, DeleteTable and BatchWriteItem calls were made.
func (c *Client) Calls() (creates, deletes, batches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.deletes, c.batches
}
