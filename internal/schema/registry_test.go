package schema

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/model"
)

// fakeColumnStore is an in-memory ColumnStore that counts ALTERs.
type fakeColumnStore struct {
	mu      sync.Mutex
	cols    []string
	adds    map[string]int
	failOn  map[string]error
	listErr error
}

func newFakeColumnStore(extra ...string) *fakeColumnStore {
	return &fakeColumnStore{
		cols:   append(append([]string{}, model.FixedColumns...), extra...),
		adds:   make(map[string]int),
		failOn: make(map[string]error),
	}
}

func (f *fakeColumnStore) ListColumns(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string{}, f.cols...), nil
}

func (f *fakeColumnStore) AddColumn(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds[name]++
	if err := f.failOn[name]; err != nil {
		return err
	}
	f.cols = append(f.cols, name)
	return nil
}

func (f *fakeColumnStore) totalAdds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.adds {
		n += c
	}
	return n
}

func TestNewRegistry_LoadsStorageColumns(t *testing.T) {
	fs := newFakeColumnStore("Apollo Company: Founded Year", "Apollo Person: Seniority", "Legacy Notes")

	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	k, ok := r.Kind(model.ColEmail)
	assert.True(t, ok)
	assert.Equal(t, KindFixed, k)

	k, _ = r.Kind("Apollo Company: Founded Year")
	assert.Equal(t, KindCompany, k)
	k, _ = r.Kind("Apollo Person: Seniority")
	assert.Equal(t, KindPerson, k)
	k, _ = r.Kind("Legacy Notes")
	assert.Equal(t, KindOther, k)

	cols := r.Columns()
	assert.Equal(t, model.FixedColumns, cols[:len(model.FixedColumns)])
	assert.Equal(t, []string{"Apollo Company: Founded Year", "Apollo Person: Seniority", "Legacy Notes"},
		cols[len(model.FixedColumns):])
}

func TestNewRegistry_ListError(t *testing.T) {
	fs := newFakeColumnStore()
	fs.listErr = errors.New("connection refused")

	_, err := NewRegistry(context.Background(), fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema: list columns")
}

func TestEnsureColumns_OneAlterForRepeatedField(t *testing.T) {
	fs := newFakeColumnStore()
	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	col := "Apollo Company: Founded Year"
	assert.Nil(t, r.EnsureColumns(context.Background(), []string{col}))
	for i := 0; i < 10; i++ {
		assert.Nil(t, r.EnsureColumns(context.Background(), []string{col, model.ColEmail}))
	}

	assert.Equal(t, 1, fs.adds[col])
	assert.Equal(t, 1, fs.totalAdds())
	assert.True(t, r.Known(col))
}

func TestEnsureColumns_Concurrent(t *testing.T) {
	fs := newFakeColumnStore()
	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	names := []string{"Apollo Person: Seniority", "Apollo Person: Headline", "Apollo Company: Keywords"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, r.EnsureColumns(context.Background(), names))
		}()
	}
	wg.Wait()

	assert.Equal(t, len(names), fs.totalAdds())
}

func TestEnsureColumns_DuplicateNamesInOneCall(t *testing.T) {
	fs := newFakeColumnStore()
	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	col := "Apollo Person: Seniority"
	assert.Nil(t, r.EnsureColumns(context.Background(), []string{col, col, col}))
	assert.Equal(t, 1, fs.adds[col])
}

func TestEnsureColumns_FailureDropsOnlyThatColumn(t *testing.T) {
	fs := newFakeColumnStore()
	fs.failOn["Apollo Company: Keywords"] = errors.New("too many columns")
	m := metrics.New()
	r, err := NewRegistry(context.Background(), fs, WithMetrics(m))
	require.NoError(t, err)

	dropped := r.EnsureColumns(context.Background(), []string{"Apollo Company: Keywords", "Apollo Company: Logo URL"})
	require.Len(t, dropped, 1)
	assert.Contains(t, dropped["Apollo Company: Keywords"].Error(), "too many columns")
	assert.False(t, r.Known("Apollo Company: Keywords"))
	assert.True(t, r.Known("Apollo Company: Logo URL"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchemaErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ColumnsAdded))

	// A later call retries the failed column.
	delete(fs.failOn, "Apollo Company: Keywords")
	assert.Nil(t, r.EnsureColumns(context.Background(), []string{"Apollo Company: Keywords"}))
	assert.Equal(t, 2, fs.adds["Apollo Company: Keywords"])
}

func TestEnsureColumns_RejectsUnprefixedNames(t *testing.T) {
	fs := newFakeColumnStore()
	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	dropped := r.EnsureColumns(context.Background(), []string{"Seniority"})
	require.Contains(t, dropped, "Seniority")
	assert.Contains(t, dropped["Seniority"].Error(), "no enrichment prefix")
	assert.Equal(t, 0, fs.totalAdds())
}

func TestRegistry_ReloadNeverShrinks(t *testing.T) {
	fs := newFakeColumnStore("Apollo Person: Seniority")
	r, err := NewRegistry(context.Background(), fs)
	require.NoError(t, err)

	fs.cols = append([]string{}, model.FixedColumns...)
	require.NoError(t, r.Reload(context.Background()))
	assert.True(t, r.Known("Apollo Person: Seniority"))
}
