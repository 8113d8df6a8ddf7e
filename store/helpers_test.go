package store_test

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbmigrate/store"
)

// fakeClient is an in-memory stand-in for the DynamoDB API.
type fakeClient struct {
	mu     sync.Mutex
	tables map[string]*types.TableDescription
	items  map[string]map[string]store.Item // table -> id -> item

	// createStatus is the status new tables get; defaults to ACTIVE.
	createStatus types.TableStatus

	// describeErr, when set, is returned by every DescribeTable call.
	describeErr error

	// batchErr decides whether a BatchWriteItem call fails as a whole.
	batchErr func(call int, reqs []types.WriteRequest) error

	// unprocessed holds, per item ID, how many more times the item is left unprocessed.
	unprocessed map[string]int

	describeCalls int
	createCalls   int
	deleteCalls   int
	batchCalls    int
	lastCreate    *dynamodb.CreateTableInput
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:      make(map[string]*types.TableDescription),
		items:       make(map[string]map[string]store.Item),
		unprocessed: make(map[string]int),
	}
}

func notFound() error {
	return &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
}

// addTable registers an existing table with the given key schema.
func (f *fakeClient) addTable(name string, status types.TableStatus, keys []types.KeySchemaElement, defs []types.AttributeDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &types.TableDescription{
		TableName:            aws.String(name),
		TableStatus:          status,
		KeySchema:            keys,
		AttributeDefinitions: defs,
	}
}

func (f *fakeClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	desc, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, notFound()
	}
	cp := *desc
	return &dynamodb.DescribeTableOutput{Table: &cp}, nil
}

func (f *fakeClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = in
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	status := f.createStatus
	if status == "" {
		status = types.TableStatusActive
	}
	desc := &types.TableDescription{
		TableName:            in.TableName,
		TableStatus:          status,
		KeySchema:            in.KeySchema,
		AttributeDefinitions: in.AttributeDefinitions,
	}
	f.tables[name] = desc
	return &dynamodb.CreateTableOutput{TableDescription: desc}, nil
}

func (f *fakeClient) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	name := aws.ToString(in.TableName)
	desc, ok := f.tables[name]
	if !ok {
		return nil, notFound()
	}
	delete(f.tables, name)
	delete(f.items, name)
	return &dynamodb.DeleteTableOutput{TableDescription: desc}, nil
}

func (f *fakeClient) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++

	unprocessed := make(map[string][]types.WriteRequest)
	for table, reqs := range in.RequestItems {
		if f.batchErr != nil {
			if err := f.batchErr(f.batchCalls, reqs); err != nil {
				return nil, err
			}
		}
		for _, req := range reqs {
			id := itemID(req.PutRequest.Item)
			if f.unprocessed[id] > 0 {
				f.unprocessed[id]--
				unprocessed[table] = append(unprocessed[table], req)
				continue
			}
			if f.items[table] == nil {
				f.items[table] = make(map[string]store.Item)
			}
			f.items[table][id] = req.PutRequest.Item
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

func (f *fakeClient) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[table])
}

func itemID(item store.Item) string {
	if s, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func containsID(reqs []types.WriteRequest, id string) bool {
	for _, r := range reqs {
		if itemID(r.PutRequest.Item) == id {
			return true
		}
	}
	return false
}

// testConfig returns a Config with delays short enough for unit tests.
func testConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.WaiterMinDelay = time.Millisecond
	cfg.WaiterMaxDelay = 5 * time.Millisecond
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	cfg.BreakerTimeout = 10 * time.Millisecond
	return cfg
}

type recordingObserver struct {
	mu          sync.Mutex
	outcomes    map[string]store.Outcome
	written     int
	failed      int
	batchEvents int
}

func (o *recordingObserver) TableProvisioned(table string, outcome store.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]store.Outcome)
	}
	o.outcomes[table] = outcome
}

func (o *recordingObserver) BatchWritten(_ string, written, failed int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written += written
	o.failed += failed
	o.batchEvents++
}
