package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrPaginationOverrun marks a walk that hit the page ceiling while the
// store still had more pages. The dataset is outside this system's control,
// so the ceiling bounds worst-case latency and memory.
var ErrPaginationOverrun = errors.New("pagination page ceiling exceeded")

// Querier is the single-page query the walker drives.
type Querier interface {
	Query(ctx context.Context, q KeyQuery) (Page, error)
}

// Pager walks a paged query to completion, accumulating every page.
type Pager struct {
	querier  Querier
	maxPages int
}

const defaultMaxPages = 50

// NewPager creates a walker with the given page ceiling (<=0 uses the default).
func NewPager(querier Querier, maxPages int) *Pager {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Pager{querier: querier, maxPages: maxPages}
}

// Collect reissues q with each returned continuation token until the store
// reports no more pages, the ceiling is hit, or ctx is cancelled.
func (p *Pager) Collect(ctx context.Context, q KeyQuery) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if page >= p.maxPages {
			return nil, fmt.Errorf("%w: stopped after %d pages (%d items)",
				ErrPaginationOverrun, p.maxPages, len(items))
		}

		result, err := p.querier.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)

		if len(result.NextKey) == 0 {
			return items, nil
		}
		q.StartKey = result.NextKey
	}
}

// typedPlayAttributes are the item attributes carried by PlayRecord's typed
// fields; everything else a producer stamps on the item lands in Extra.
var typedPlayAttributes = map[string]struct{}{
	"play_id":       {},
	"device_id":     {},
	"ad_filename":   {},
	"timestamp":     {},
	"play_duration": {},
	"status":        {},
}

// CollectPlays walks q and unmarshals every item into a play record. Items
// missing the required attributes are dropped with a warning; producer
// attributes beyond the typed fields are preserved in Extra.
func (p *Pager) CollectPlays(ctx context.Context, q KeyQuery) ([]v1.PlayRecord, error) {
	items, err := p.Collect(ctx, q)
	if err != nil {
		return nil, err
	}

	decoded := make([]v1.PlayRecord, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &decoded); err != nil {
		return nil, fmt.Errorf("decode play records: %w", err)
	}

	records := decoded[:0]
	for i := range decoded {
		if err := decoded[i].Validate(); err != nil {
			slog.Warn("dropping malformed play record",
				"table", q.Table, "partition_value", q.PartitionValue, "error", err)
			continue
		}
		extra, err := extraAttributes(items[i])
		if err != nil {
			return nil, fmt.Errorf("decode play record attributes: %w", err)
		}
		decoded[i].Extra = extra
		records = append(records, decoded[i])
	}
	return records, nil
}

// extraAttributes decodes the item attributes not covered by PlayRecord's
// typed fields. Returns nil when the item carries nothing beyond them.
func extraAttributes(item map[string]types.AttributeValue) (map[string]interface{}, error) {
	var extra map[string]interface{}
	for name, av := range item {
		if _, known := typedPlayAttributes[name]; known {
			continue
		}
		var value interface{}
		if err := attributevalue.Unmarshal(av, &value); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[name] = value
	}
	return extra, nil
}
