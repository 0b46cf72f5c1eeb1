// Package store wraps the external key-value store and object bucket behind
// small clients the dashboard can fan out against. All durable state lives
// upstream; nothing here writes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrInvalidQuery marks malformed queries; handlers map it to HTTP 400.
	ErrInvalidQuery = errors.New("invalid store query")

	// ErrUpstream marks store call failures other than deadline expiry.
	ErrUpstream = errors.New("upstream store error")

	// ErrUpstreamTimeout marks per-call deadline expiry, surfaced distinctly
	// so operators can tell a slow store from a broken one.
	ErrUpstreamTimeout = errors.New("upstream store timeout")
)

// SortOp is a sort-key condition operator.
type SortOp string

const (
	SortEq      SortOp = "eq"
	SortBetween SortOp = "between"
	SortGTE     SortOp = "gte"
	SortLTE     SortOp = "lte"
)

// SortCondition constrains the sort key of a query. Value is used by Eq,
// GTE and LTE; Start/End by Between.
type SortCondition struct {
	Key   string
	Op    SortOp
	Value string
	Start string
	End   string
}

// KeyQuery describes one paged query against the table or one of its
// secondary indexes.
type KeyQuery struct {
	Table          string
	Index          string
	PartitionKey   string
	PartitionValue string
	Sort           *SortCondition
	Limit          int32

	// StartKey is the continuation token from the previous page.
	StartKey map[string]types.AttributeValue
}

// Page is one page of query or scan results. NextKey is nil on the last page.
type Page struct {
	Items        []map[string]types.AttributeValue
	NextKey      map[string]types.AttributeValue
	Count        int32
	ScannedCount int32
}

// DynamoAPI is the slice of the DynamoDB client the facade uses.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Client issues reads against the key-value store with a per-call timeout
// and one bounded retry for transient failures.
type Client struct {
	api      DynamoAPI
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

// ClientOptions tune timeout and retry behavior.
type ClientOptions struct {
	QueryTimeout  time.Duration
	RetryAttempts int // extra attempts after the first; 0 disables retries
	RetryBackoff  time.Duration
}

// NewClient wraps api. Zero option fields fall back to safe defaults.
func NewClient(api DynamoAPI, opts ClientOptions) *Client {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	return &Client{
		api:      api,
		timeout:  opts.QueryTimeout,
		attempts: opts.RetryAttempts,
		backoff:  opts.RetryBackoff,
	}
}

// Query runs one key-condition query and returns a single page.
func (c *Client) Query(ctx context.Context, q KeyQuery) (Page, error) {
	input, err := buildQueryInput(q)
	if err != nil {
		return Page{}, err
	}

	var out *dynamodb.QueryOutput
	err = c.do(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.Query(callCtx, input)
		return callErr
	})
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:        out.Items,
		NextKey:      out.LastEvaluatedKey,
		Count:        out.Count,
		ScannedCount: out.ScannedCount,
	}, nil
}

// Scan is the unconditioned fallback read for ad hoc inspection. Dashboard
// read paths never use it; prefer Query.
func (c *Client) Scan(ctx context.Context, table string, limit int32) (Page, error) {
	if table == "" {
		return Page{}, fmt.Errorf("%w: table name is required", ErrInvalidQuery)
	}

	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var out *dynamodb.ScanOutput
	err := c.do(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.Scan(callCtx, input)
		return callErr
	})
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:        out.Items,
		NextKey:      out.LastEvaluatedKey,
		Count:        out.Count,
		ScannedCount: out.ScannedCount,
	}, nil
}

// ListTables reports the table names visible to the credentials. Best-effort:
// restricted permissions surface as an upstream error the caller may tolerate.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var out *dynamodb.ListTablesOutput
	err := c.do(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.ListTables(callCtx, &dynamodb.ListTablesInput{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out.TableNames, nil
}

// Ping verifies the store is reachable and the credentials can list tables.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListTables(ctx)
	return err
}

func buildQueryInput(q KeyQuery) (*dynamodb.QueryInput, error) {
	if q.Table == "" {
		return nil, fmt.Errorf("%w: table name is required", ErrInvalidQuery)
	}
	if q.PartitionKey == "" || q.PartitionValue == "" {
		return nil, fmt.Errorf("%w: partition key and value are required", ErrInvalidQuery)
	}

	keyCond := expression.Key(q.PartitionKey).Equal(expression.Value(q.PartitionValue))
	if q.Sort != nil {
		if q.Sort.Key == "" {
			return nil, fmt.Errorf("%w: sort condition requires a sort key name", ErrInvalidQuery)
		}
		sortKey := expression.Key(q.Sort.Key)
		switch q.Sort.Op {
		case SortEq:
			keyCond = keyCond.And(sortKey.Equal(expression.Value(q.Sort.Value)))
		case SortBetween:
			if q.Sort.Start == "" || q.Sort.End == "" {
				return nil, fmt.Errorf("%w: between condition requires start and end", ErrInvalidQuery)
			}
			keyCond = keyCond.And(sortKey.Between(expression.Value(q.Sort.Start), expression.Value(q.Sort.End)))
		case SortGTE:
			keyCond = keyCond.And(sortKey.GreaterThanEqual(expression.Value(q.Sort.Value)))
		case SortLTE:
			keyCond = keyCond.And(sortKey.LessThanEqual(expression.Value(q.Sort.Value)))
		default:
			return nil, fmt.Errorf("%w: unsupported sort operator %q", ErrInvalidQuery, q.Sort.Op)
		}
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}
	if len(q.StartKey) > 0 {
		input.ExclusiveStartKey = q.StartKey
	}
	return input, nil
}

// do runs fn under the per-call timeout, retrying transient failures with a
// fixed backoff. Validation errors never retry.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return classify(ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		err = classify(err)
		if errors.Is(err, ErrInvalidQuery) {
			return err
		}
	}
	return err
}

// classify folds provider errors into the facade's taxonomy, keeping the
// provider message intact.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrUpstream), errors.Is(err, ErrUpstreamTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

// DecodeItems converts raw attribute-value items into plain JSON-shaped maps
// for the generic inspection endpoint.
func DecodeItems(items []map[string]types.AttributeValue) ([]map[string]interface{}, error) {
	decoded := make([]map[string]interface{}, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &decoded); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return decoded, nil
}
