package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/upsert"
)

type okStore struct{}

func (okStore) Ping(context.Context) error { return nil }

// fakeUpserter inserts everything unless err is set. With block, each call
// waits for ctx to end and returns its error.
type fakeUpserter struct {
	calls atomic.Int32
	block bool
	err   error
}

func (f *fakeUpserter) Upsert(ctx context.Context, _ *model.ContactRecord, _ []model.EnrichmentField) (upsert.Outcome, []upsert.Warning, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return upsert.Failed, nil, ctx.Err()
	}
	if f.err != nil {
		return upsert.Failed, nil, f.err
	}
	return upsert.Inserted, nil, nil
}
