package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/publisher/memory"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Today() time.Time {
	return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
}

type fakeIDs struct{}

func (fakeIDs) NewRawID() (uuid.UUID, error) {
	return uuid.NewV7()
}

type transition struct {
	source string
	status store.RunStatus
}

type fakeMonitor struct {
	mu     sync.Mutex
	steps  []transition
	final  map[string]store.RunCounts
	errMsg map[string]*string
	ctxErr map[string]error
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		final:  map[string]store.RunCounts{},
		errMsg: map[string]*string{},
		ctxErr: map[string]error{},
	}
}

func (m *fakeMonitor) record(src string, status store.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, transition{src, status})
}

func (m *fakeMonitor) MarkPending(_ context.Context, src string, _ time.Time) error {
	m.record(src, store.RunPending)
	return nil
}

func (m *fakeMonitor) MarkRunning(_ context.Context, src string, _ uuid.UUID, _ time.Time) error {
	m.record(src, store.RunRunning)
	return nil
}

func (m *fakeMonitor) CompleteRun(
	ctx context.Context,
	src string,
	status store.RunStatus,
	_ time.Time,
	counts store.RunCounts,
	errMsg *string,
) error {
	m.record(src, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.final[src] = counts
	m.errMsg[src] = errMsg
	m.ctxErr[src] = ctx.Err()
	return nil
}

func (m *fakeMonitor) GetRun(context.Context, string) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (m *fakeMonitor) ListRuns(context.Context) ([]store.Run, error) {
	return nil, nil
}

func (m *fakeMonitor) statuses(src string) []store.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.RunStatus
	for _, s := range m.steps {
		if s.source == src {
			out = append(out, s.status)
		}
	}
	return out
}

type fakeParser struct {
	name    car.Source
	batches [][]car.Record
	err     error
	panics  bool
	block   chan struct{}
}

func (p *fakeParser) Name() car.Source { return p.name }

func (p *fakeParser) Crawl(ctx context.Context, sink source.Sink) error {
	if p.panics {
		panic("selector exploded")
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, b := range p.batches {
		if err := sink(ctx, b); err != nil {
			return err
		}
	}
	return p.err
}

type countingBatcher struct {
	err error
}

func (b countingBatcher) Process(_ context.Context, records []car.Record) (store.RunCounts, error) {
	return store.RunCounts{Listings: int64(len(records)), Inserted: int64(len(records))}, b.err
}

func records(src car.Source, ids ...int64) []car.Record {
	out := make([]car.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, car.Record{Source: src, ID: id, BodyType: "SUV"})
	}
	return out
}

func newRunner(parsers []source.Parser, batcher Batcher, monitor *fakeMonitor, pub car.Publisher) *Runner {
	return New(parsers, batcher, monitor, pub, &fakeClock{now: time.Unix(0, 0)}, fakeIDs{}, zap.NewNop())
}

func TestRunRecordsSuccessAndPublishes(t *testing.T) {
	t.Parallel()

	monitor := newFakeMonitor()
	pub := memory.New()
	parser := &fakeParser{
		name:    car.SourceEncar,
		batches: [][]car.Record{records(car.SourceEncar, 1, 2), records(car.SourceEncar, 3)},
	}
	r := newRunner([]source.Parser{parser}, countingBatcher{}, monitor, pub)

	summary := r.Run(context.Background(), car.SourceEncar)
	assert.Equal(t, store.RunSuccess, summary.Status)
	assert.Equal(t, int64(3), summary.Counts.Listings)
	assert.Equal(t, int64(3), summary.Counts.Inserted)
	assert.Empty(t, summary.Error)
	assert.NotEqual(t, uuid.Nil, summary.RunID)
	assert.Equal(t, int64(1000), summary.DurationMs)

	assert.Equal(t, []store.RunStatus{store.RunRunning, store.RunSuccess}, monitor.statuses("encar"))
	assert.Equal(t, int64(3), monitor.final["encar"].Listings)
	assert.Nil(t, monitor.errMsg["encar"])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "encar", msgs[0].Attributes["source"])
	assert.Equal(t, "success", msgs[0].Attributes["status"])
	assert.Equal(t, summary.RunID.String(), msgs[0].Attributes["run_id"])
	assert.Equal(t, summary, msgs[0].Payload)
}

func TestRunTurnsErrorsIntoFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		parser  *fakeParser
		batcher Batcher
		want    string
	}{
		{
			name:    "parser error",
			parser:  &fakeParser{name: car.SourceKBChaChaCha, err: errors.New("category counts unavailable")},
			batcher: countingBatcher{},
			want:    "category counts unavailable",
		},
		{
			name: "sink error",
			parser: &fakeParser{
				name:    car.SourceKBChaChaCha,
				batches: [][]car.Record{records(car.SourceKBChaChaCha, 9)},
			},
			batcher: countingBatcher{err: errors.New("sweep failed")},
			want:    "sweep failed",
		},
		{
			name:    "panic",
			parser:  &fakeParser{name: car.SourceKBChaChaCha, panics: true},
			batcher: countingBatcher{},
			want:    "parser panic: selector exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			monitor := newFakeMonitor()
			r := newRunner([]source.Parser{tt.parser}, tt.batcher, monitor, nil)

			summary := r.Run(context.Background(), car.SourceKBChaChaCha)
			assert.Equal(t, store.RunFailure, summary.Status)
			assert.Contains(t, summary.Error, tt.want)
			assert.Equal(t, []store.RunStatus{store.RunRunning, store.RunFailure}, monitor.statuses("kbchachacha"))
			require.NotNil(t, monitor.errMsg["kbchachacha"])
			assert.Contains(t, *monitor.errMsg["kbchachacha"], tt.want)
		})
	}
}

func TestRunUnknownSourceFails(t *testing.T) {
	t.Parallel()

	monitor := newFakeMonitor()
	r := newRunner(nil, countingBatcher{}, monitor, nil)
	summary := r.Run(context.Background(), car.SourceBobaedream)
	assert.Equal(t, store.RunFailure, summary.Status)
	assert.Contains(t, summary.Error, "no parser registered")
}

func TestRunRecordsOutcomeAfterCancel(t *testing.T) {
	t.Parallel()

	monitor := newFakeMonitor()
	parser := &fakeParser{name: car.SourceEncar, block: make(chan struct{})}
	r := newRunner([]source.Parser{parser}, countingBatcher{}, monitor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := r.Run(ctx, car.SourceEncar)

	assert.Equal(t, store.RunFailure, summary.Status)
	assert.NoError(t, monitor.ctxErr["encar"], "completion must not inherit cancellation")
}

func TestRunAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	monitor := newFakeMonitor()
	pub := memory.New()
	parsers := []source.Parser{
		&fakeParser{name: car.SourceBobaedream, batches: [][]car.Record{records(car.SourceBobaedream, 1)}},
		&fakeParser{name: car.SourceKBChaChaCha, err: errors.New("blocked")},
		&fakeParser{name: car.SourceEncar, batches: [][]car.Record{records(car.SourceEncar, 5, 6)}},
	}
	r := newRunner(parsers, countingBatcher{}, monitor, pub)

	summaries, err := r.RunAll(context.Background(), car.Sources)
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "kbchachacha")
	require.Len(t, summaries, 3)

	assert.Equal(t, car.SourceBobaedream, summaries[0].Source)
	assert.Equal(t, store.RunSuccess, summaries[0].Status)
	assert.Equal(t, store.RunFailure, summaries[1].Status)
	assert.Equal(t, store.RunSuccess, summaries[2].Status)
	assert.Equal(t, int64(2), summaries[2].Counts.Inserted)

	for _, src := range []string{"bobaedream", "kbchachacha", "encar"} {
		statuses := monitor.statuses(src)
		require.Len(t, statuses, 3, src)
		assert.Equal(t, store.RunPending, statuses[0], src)
		assert.Equal(t, store.RunRunning, statuses[1], src)
	}
	assert.Len(t, pub.Messages(), 3)
}

func TestRunAllSucceeds(t *testing.T) {
	t.Parallel()

	monitor := newFakeMonitor()
	r := newRunner([]source.Parser{&fakeParser{name: car.SourceEncar}}, countingBatcher{}, monitor, nil)
	summaries, err := r.RunAll(context.Background(), []car.Source{car.SourceEncar})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, store.RunSuccess, summaries[0].Status)
}
