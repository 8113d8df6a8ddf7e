//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// AWS_PROFILE selects the credentials; DYNAMODB_ENDPOINT points the tests at DynamoDB Local.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/ddbmigrate/pipeline"
	"github.com/jacentio/ddbmigrate/schema"
	"github.com/jacentio/ddbmigrate/snapshot"
	"github.com/jacentio/ddbmigrate/source/memory"
	"github.com/jacentio/ddbmigrate/store"
)

const tablePrefix = "ddbmigrate-e2e"

var (
	testID    string
	ddbClient *dynamodb.Client

	mu      sync.Mutex
	created []string
)

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	fmt.Printf("Test ID: %s\n", testID)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint := os.Getenv("DYNAMODB_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	code := m.Run()

	deleteTables(ctx)
	os.Exit(code)
}

// rootName returns a collection name unique to this run.
func rootName(name string) string {
	return fmt.Sprintf("%s-%s-%s", tablePrefix, testID, name)
}

// track records tables for deletion after the run.
func track(tables ...string) {
	mu.Lock()
	defer mu.Unlock()
	created = append(created, tables...)
}

func deleteTables(ctx context.Context) {
	fmt.Println("Deleting test tables...")
	mu.Lock()
	defer mu.Unlock()
	for _, table := range created {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", table, err)
		}
	}
}

func storeConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.TableWaitTimeout = 2 * time.Minute
	return cfg
}

func newPipeline(t *testing.T, src *memory.Source, cfg pipeline.Config) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(pipeline.Deps{
		Source:    src,
		Snapshots: snapshot.NewDirStore(t.TempDir()),
		Client:    ddbClient,
		Store:     storeConfig(),
	}, cfg, nil)
}

func getItem(t *testing.T, table string, key map[string]types.AttributeValue, out any) bool {
	t.Helper()
	res, err := ddbClient.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	require.NoError(t, err)
	if res.Item == nil {
		return false
	}
	require.NoError(t, attributevalue.UnmarshalMap(res.Item, out))
	return true
}

type orderItem struct {
	ID    string  `dynamodbav:"id"`
	Total float64 `dynamodbav:"total"`
	Note  string  `dynamodbav:"note"`
}

type lineItem struct {
	ParentID string `dynamodbav:"parentId"`
	ID       string `dynamodbav:"id"`
	SKU      string `dynamodbav:"sku"`
	Placed   string `dynamodbav:"placed"`
}

type location struct {
	Latitude  float64 `dynamodbav:"latitude"`
	Longitude float64 `dynamodbav:"longitude"`
}

type noteItem struct {
	ParentID string   `dynamodbav:"parentId"`
	ID       string   `dynamodbav:"id"`
	Where    location `dynamodbav:"where"`
	Tags     []string `dynamodbav:"tags"`
}

func TestRun_MigratesThreeLevels(t *testing.T) {
	root := rootName("orders")
	items := schema.TableName(root, "items")
	notes := schema.TableName(items, "notes")
	track(root, items, notes)

	placed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	src := memory.New(memory.Collection{ID: root, Documents: []memory.Document{
		{ID: "A", Fields: map[string]any{"total": 12.5, "note": "first"}, Collections: []memory.Collection{
			{ID: "items", Documents: []memory.Document{
				{ID: "x1", Fields: map[string]any{"sku": "s1", "placed": placed}, Collections: []memory.Collection{
					{ID: "notes", Documents: []memory.Document{
						{ID: "n1", Fields: map[string]any{
							"where": map[string]any{"latitude": 51.5, "longitude": -0.12},
							"tags":  []any{"gift", "fragile"},
						}},
					}},
				}},
			}},
		}},
		{ID: "B", Fields: map[string]any{"total": 3}},
	}})

	sum, err := newPipeline(t, src, pipeline.Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ExitCode())

	var order orderItem
	require.True(t, getItem(t, root, map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "A"},
	}, &order))
	assert.Equal(t, orderItem{ID: "A", Total: 12.5, Note: "first"}, order)

	var line lineItem
	require.True(t, getItem(t, items, map[string]types.AttributeValue{
		"parentId": &types.AttributeValueMemberS{Value: "A"},
		"id":       &types.AttributeValueMemberS{Value: "x1"},
	}, &line))
	assert.Equal(t, "s1", line.SKU)
	assert.Equal(t, "2024-03-01T12:30:00.000Z", line.Placed)

	var note noteItem
	require.True(t, getItem(t, notes, map[string]types.AttributeValue{
		"parentId": &types.AttributeValueMemberS{Value: "A#x1"},
		"id":       &types.AttributeValueMemberS{Value: "n1"},
	}, &note))
	assert.Equal(t, location{Latitude: 51.5, Longitude: -0.12}, note.Where)
	assert.Equal(t, []string{"gift", "fragile"}, note.Tags)

	desc, err := ddbClient.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String(notes)})
	require.NoError(t, err)
	assert.True(t, schema.Match(desc.Table, schema.Expected(notes)))

	// A second run finds every table in place and rewrites the same items.
	sum, err = newPipeline(t, src, pipeline.Config{}).Run(context.Background())
	require.NoError(t, err)
	for _, table := range []string{root, items, notes} {
		r, ok := sum.Table(table)
		require.True(t, ok, table)
		assert.Equal(t, store.OutcomeUnchanged, r.Outcome, table)
	}
}

func TestProvision_MismatchedTable(t *testing.T) {
	root := rootName("users")
	nested := schema.TableName(root, "sessions")
	track(nested)

	// Nested tables need parentId+id; create one keyed by id alone.
	_, err := ddbClient.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName:            aws.String(nested),
		KeySchema:            schema.Expected(root).KeySchema(),
		AttributeDefinitions: schema.Expected(root).AttributeDefinitions(),
		BillingMode:          types.BillingModePayPerRequest,
	})
	require.NoError(t, err)

	cfg := storeConfig()
	p := store.NewProvisioner(ddbClient, cfg, nil)
	_, err = p.EnsureTable(context.Background(), nested)
	var conflict *store.SchemaConflictError
	require.True(t, errors.As(err, &conflict), "expected SchemaConflictError, got %v", err)

	cfg.RecreateMismatched = true
	p = store.NewProvisioner(ddbClient, cfg, nil)
	outcome, err := p.EnsureTable(context.Background(), nested)
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeRecreated, outcome)

	desc, err := p.Describe(context.Background(), nested)
	require.NoError(t, err)
	assert.True(t, schema.Match(desc, schema.Expected(nested)))
}

func TestRun_DryRunLeavesTargetUntouched(t *testing.T) {
	root := rootName("drafts")
	src := memory.New(memory.Collection{ID: root, Documents: []memory.Document{
		{ID: "d1", Fields: map[string]any{"title": "hello"}},
	}})

	sum, err := newPipeline(t, src, pipeline.Config{DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	r, ok := sum.Table(root)
	require.True(t, ok)
	assert.Equal(t, store.OutcomeCreated, r.Outcome)
	assert.Equal(t, 1, r.Records)
	assert.Zero(t, r.Written)

	_, err = ddbClient.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String(root)})
	var notFound *types.ResourceNotFoundException
	assert.True(t, errors.As(err, &notFound), "expected the table not to exist, got %v", err)
}
