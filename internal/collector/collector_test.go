package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock returns a fixed instant, advanced manually.
type fakeClock struct {
	now atomic.Value
}

func newFakeClock(at time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(at)
	return c
}

func (c *fakeClock) Now() time.Time {
	return c.now.Load().(time.Time)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Store(c.Now().Add(d))
}

// seqIDs hands out deterministic sequential IDs.
type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("rec-%04d", s.n.Add(1)), nil
}

// failingIDs always errors, to exercise the emit failure path.
type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", fmt.Errorf("id source exhausted")
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithBackoffIntervals(30*time.Millisecond, 60*time.Millisecond)}
	return NewEngine(zap.NewNop(), &seqIDs{}, newFakeClock(time.Unix(1700000000, 0)), append(base, opts...)...)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func drain(out chan *RawRecord) []*RawRecord {
	close(out)
	var records []*RawRecord
	for rec := range out {
		records = append(records, rec)
	}
	return records
}

func TestCollectRejectsNilSource(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 1)
	err := e.Collect(context.Background(), nil, &Config{}, out)
	require.Error(t, err)
}

func TestCollectRejectsUnknownSourceType(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 1)
	err := e.Collect(context.Background(), &Source{Type: "ftp"}, &Config{}, out)
	require.ErrorContains(t, err, "unsupported source type")
}

func TestCollectRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 1)

	for _, raw := range []string{"", "not a url", "ftp://example.com", "/relative/path"} {
		err := e.Collect(context.Background(), &Source{Type: SourceWeb, URL: raw}, &Config{}, out)
		require.Error(t, err, "url %q", raw)
	}
}

func TestCollectRejectsMissingFile(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 1)
	err := e.Collect(context.Background(), &Source{Type: SourceFile, FilePath: "/does/not/exist.txt"}, &Config{}, out)
	require.Error(t, err)
}

func TestCollectAbortsOnPreCanceledContext(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeTempFile(t, "input.txt", "some perfectly fine line of text\n")
	out := make(chan *RawRecord, 1)
	err := e.Collect(ctx, &Source{Type: SourceFile, FilePath: path}, &Config{}, out)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "aborted before start")
}

func TestCollectCancellationMidRunKeepsDeliveredRecords(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	var lines strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&lines, "line number %d with enough words to pass\n", i)
	}
	path := writeTempFile(t, "input.txt", lines.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unbuffered channel: the producer blocks on each push, so the run is
	// guaranteed to still be in flight when the consumer cancels.
	out := make(chan *RawRecord)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Collect(ctx, &Source{Type: SourceFile, FilePath: path}, &Config{}, out)
	}()

	for i := 0; i < 3; i++ {
		select {
		case rec := <-out:
			require.NotEmpty(t, rec.Content)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a record")
		}
	}
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err, "cancellation after progress is a clean stop, not an error")
	case <-time.After(time.Second):
		t.Fatal("collect did not return promptly after cancellation")
	}

	select {
	case rec := <-out:
		t.Fatalf("record %s pushed after cancellation", rec.ID)
	default:
	}
}

func TestCollectRejectsUnknownFilter(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	path := writeTempFile(t, "input.txt", "some perfectly fine line of text\n")
	out := make(chan *RawRecord, 1)
	cfg := &Config{Filters: []FilterSpec{{Name: "no_such_filter"}}}
	err := e.Collect(context.Background(), &Source{Type: SourceFile, FilePath: path}, cfg, out)
	require.ErrorContains(t, err, "unknown filter")
}

func TestCollectAssignsUniqueIDsAndTimestamps(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	e := NewEngine(zap.NewNop(), &seqIDs{}, clock)

	var lines strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&lines, "line number %d with enough words to pass\n", i)
	}
	path := writeTempFile(t, "input.txt", lines.String())

	out := make(chan *RawRecord, 16)
	err := e.Collect(context.Background(), &Source{Type: SourceFile, FilePath: path}, &Config{}, out)
	require.NoError(t, err)

	records := drain(out)
	require.Len(t, records, 5)
	seen := make(map[string]struct{})
	for _, rec := range records {
		_, dup := seen[rec.ID]
		require.False(t, dup, "duplicate id %s", rec.ID)
		seen[rec.ID] = struct{}{}
		require.Equal(t, clock.Now().UnixMilli(), rec.Timestamp)
		require.NotEmpty(t, rec.Content)
	}
}

func TestCollectHonorsMaxCount(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	var lines strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&lines, "line number %d with enough words to pass\n", i)
	}
	path := writeTempFile(t, "input.txt", lines.String())

	out := make(chan *RawRecord, 64)
	cfg := &Config{MaxCount: 7}
	err := e.Collect(context.Background(), &Source{Type: SourceFile, FilePath: path}, cfg, out)
	require.NoError(t, err)
	require.Len(t, drain(out), 7)
}

func TestCollectSurfacesIDGenerationFailure(t *testing.T) {
	t.Parallel()

	e := NewEngine(zap.NewNop(), failingIDs{}, newFakeClock(time.Unix(1700000000, 0)))
	path := writeTempFile(t, "input.txt", "some perfectly fine line of text\n")
	out := make(chan *RawRecord, 1)
	err := e.Collect(context.Background(), &Source{Type: SourceFile, FilePath: path}, &Config{}, out)
	require.ErrorContains(t, err, "generate record id")
}

func TestNormalizedAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.normalized(SourceWeb, builtinDefaults)
	require.Equal(t, 100, cfg.MaxCount)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 10.0, cfg.RateLimit)
	require.Equal(t, 15*time.Second, cfg.Timeout)
}

func TestNormalizedKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	in := Config{MaxCount: 42, Concurrency: 3, RateLimit: 2.5, Timeout: time.Second}
	cfg := in.normalized(SourceWeb, builtinDefaults)
	require.Equal(t, in.MaxCount, cfg.MaxCount)
	require.Equal(t, in.Concurrency, cfg.Concurrency)
	require.Equal(t, in.RateLimit, cfg.RateLimit)
	require.Equal(t, in.Timeout, cfg.Timeout)
}

func TestNormalizedClampsHardenedCeilings(t *testing.T) {
	t.Parallel()

	cfg := Config{RateLimit: 50, Concurrency: 16}.normalized(SourceZhihu, builtinDefaults)
	require.LessOrEqual(t, cfg.RateLimit, float64(zhihuMaxRate))
	require.LessOrEqual(t, cfg.Concurrency, zhihuMaxConcurrency)
}

func TestEmitterCapUnderConcurrency(t *testing.T) {
	t.Parallel()

	em := &emitter{
		ids:        &seqIDs{},
		clock:      newFakeClock(time.Unix(1700000000, 0)),
		out:        make(chan *RawRecord, 64),
		pipeline:   mustPipeline(t, SourceFile, nil),
		max:        10,
		sourceType: SourceFile,
	}

	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		go func(w int) {
			var first error
			for i := 0; i < 20; i++ {
				content := fmt.Sprintf("worker %d emits candidate number %d", w, i)
				if _, err := em.emit(context.Background(), content, "file:test", nil); err != nil && first == nil {
					first = err
				}
			}
			errs <- first
		}(w)
	}
	for w := 0; w < 4; w++ {
		require.NoError(t, <-errs)
	}
	require.Equal(t, int64(10), em.emitted())
}

func mustPipeline(t *testing.T, st SourceType, specs []FilterSpec) *FilterPipeline {
	t.Helper()
	p, err := NewFilterPipeline(st, specs)
	require.NoError(t, err)
	return p
}
