package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbmigrate/schema"
)

// Outcome is what EnsureTable did (or, for Plan, would do) to a table.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeCreated   Outcome = "created"
	OutcomeRecreated Outcome = "recreated"
)

// Provisioner creates and reconciles tables so they have the key schema their name implies.
type Provisioner struct {
	client   Client
	config   Config
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(client Client, config Config, logger *slog.Logger) *Provisioner {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		client:   client,
		config:   config,
		logger:   logger,
		observer: nopObserver{},
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetObserver sets the observer notified of every provisioned table.
func (p *Provisioner) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	p.observer = o
}

// lock returns the mutex serializing operations on table.
func (p *Provisioner) lock(table string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[table]
	if !ok {
		l = &sync.Mutex{}
		p.locks[table] = l
	}
	return l
}

// Describe returns the live description of table, or ErrTableNotFound. A table that is being
// deleted is reported as not found.
func (p *Provisioner) Describe(ctx context.Context, table string) (*types.TableDescription, error) {
	desc, err := p.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	if desc.TableStatus == types.TableStatusDeleting {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return desc, nil
}

func (p *Provisioner) describe(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := p.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	if out.Table == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return out.Table, nil
}

// Plan reports what EnsureTable would do to table without changing anything.
// Like EnsureTable, it returns a *SchemaConflictError for a mismatched table when
// recreation is disabled.
func (p *Provisioner) Plan(ctx context.Context, table string) (Outcome, error) {
	lock := p.lock(table)
	lock.Lock()
	defer lock.Unlock()

	desc, err := p.Describe(ctx, table)
	return p.decide(table, desc, err)
}

// decide maps a Describe result to the outcome EnsureTable has to produce.
func (p *Provisioner) decide(table string, desc *types.TableDescription, err error) (Outcome, error) {
	if errors.Is(err, ErrTableNotFound) {
		return OutcomeCreated, nil
	}
	if err != nil {
		return "", err
	}

	expected := schema.Expected(table)
	if schema.Match(desc, expected) {
		return OutcomeUnchanged, nil
	}
	if !p.config.RecreateMismatched {
		return "", &SchemaConflictError{Table: table, Live: schema.Live(desc), Expected: expected}
	}
	return OutcomeRecreated, nil
}

// EnsureTable makes table exist with its expected key schema and waits until it is active.
// A table with a different key schema is deleted and recreated when RecreateMismatched is
// set; otherwise a *SchemaConflictError is returned and the table is left untouched.
// Calling EnsureTable again without an intervening schema change is a no-op.
func (p *Provisioner) EnsureTable(ctx context.Context, table string) (Outcome, error) {
	lock := p.lock(table)
	lock.Lock()
	defer lock.Unlock()

	desc, err := p.describe(ctx, table)
	if err == nil && desc.TableStatus == types.TableStatusDeleting {
		// Left over from an interrupted run; let the deletion finish first.
		if err := p.waitNotExists(ctx, table); err != nil {
			return "", err
		}
		desc, err = nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	outcome, err := p.decide(table, desc, err)
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeUnchanged:
		if desc.TableStatus != types.TableStatusActive {
			if err := p.waitExists(ctx, table); err != nil {
				return "", err
			}
		}
		p.logger.Info("table already exists", "table", table)

	case OutcomeCreated:
		if err := p.create(ctx, table); err != nil {
			return "", err
		}

	case OutcomeRecreated:
		p.logger.Warn("destructive schema reconciliation",
			"table", table,
			"live", schema.Live(desc).String(),
			"expected", schema.Expected(table).String(),
		)
		if err := p.delete(ctx, table); err != nil {
			return "", err
		}
		if err := p.create(ctx, table); err != nil {
			return "", err
		}
	}

	p.observer.TableProvisioned(table, outcome)
	return outcome, nil
}

func (p *Provisioner) create(ctx context.Context, table string) error {
	expected := schema.Expected(table)

	p.logger.Info("creating table", "table", table, "key", expected.String())
	_, err := p.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(table),
		AttributeDefinitions: expected.AttributeDefinitions(),
		KeySchema:            expected.KeySchema(),
		BillingMode:          types.BillingModePayPerRequest,
	})
	if err != nil && !isInUse(err) {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if err != nil {
		p.logger.Info("table is being created elsewhere, waiting", "table", table)
	}

	if err := p.waitExists(ctx, table); err != nil {
		return err
	}
	p.logger.Info("created table", "table", table)
	return nil
}

func (p *Provisioner) delete(ctx context.Context, table string) error {
	_, err := p.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil && !isNotFound(err) {
		if isInUse(err) {
			return fmt.Errorf("delete table %s: %w: %w", table, ErrTableBusy, err)
		}
		return fmt.Errorf("delete table %s: %w", table, err)
	}
	return p.waitNotExists(ctx, table)
}

func (p *Provisioner) waitExists(ctx context.Context, table string) error {
	waiter := dynamodb.NewTableExistsWaiter(p.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = p.config.WaiterMinDelay
		o.MaxDelay = p.config.WaiterMaxDelay
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, p.config.TableWaitTimeout); err != nil {
		return &ProvisionTimeoutError{Table: table, Transition: "exists", Wait: p.config.TableWaitTimeout, Err: err}
	}
	return nil
}

func (p *Provisioner) waitNotExists(ctx context.Context, table string) error {
	waiter := dynamodb.NewTableNotExistsWaiter(p.client, func(o *dynamodb.TableNotExistsWaiterOptions) {
		o.MinDelay = p.config.WaiterMinDelay
		o.MaxDelay = p.config.WaiterMaxDelay
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, p.config.TableWaitTimeout); err != nil {
		return &ProvisionTimeoutError{Table: table, Transition: "not exists", Wait: p.config.TableWaitTimeout, Err: err}
	}
	return nil
}
