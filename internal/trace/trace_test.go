package trace

// ============================================================================
// Trace Log Test File
// Purpose: Verify append, buffered flush, sequence resume and replay checks
// ============================================================================

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/periperidip/rtsched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatch(job types.JobID, tick types.Tick) types.Event {
	return types.Event{Kind: types.EventDispatch, Source: "executive", Job: job, Tick: tick, Planned: tick}
}

func readAll(t *testing.T, path string) []Record {
	t.Helper()
	var records []Record
	require.NoError(t, Replay(path, func(r Record) error {
		records = append(records, r)
		return nil
	}))
	return records
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 2, 0)
	require.NoError(t, err)

	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Append(dispatch("B", 10)))
	require.NoError(t, l.Append(dispatch("C", 22)))
	assert.Equal(t, uint64(3), l.LastSeq())
	require.NoError(t, l.Close())

	records := readAll(t, path)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Seq)
	}
	assert.Equal(t, types.JobID("C"), records[2].Event.Job)
	assert.Equal(t, types.Tick(22), records[2].Event.Tick)
}

func TestBufferedUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 100, time.Hour)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(dispatch("A", 0)))
	assert.Empty(t, readAll(t, path), "record should still be buffered")

	require.NoError(t, l.Flush())
	assert.Len(t, readAll(t, path), 1)
}

func TestSequenceResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Append(dispatch("B", 10)))
	require.NoError(t, l.Close())

	l, err = Open(path, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.LastSeq())
	require.NoError(t, l.Append(dispatch("C", 22)))
	require.NoError(t, l.Close())

	records := readAll(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[2].Seq)
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "trace.jsonl"), 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(dispatch("A", 0)), ErrClosed)
	assert.ErrorIs(t, l.Flush(), ErrClosed)
	assert.NoError(t, l.Close(), "second Close should be a no-op")
}

func TestOpenRejectsBadBufferSize(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "trace.jsonl"), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)
}

func TestReplayDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"job":"A"`, `"job":"Z"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	err = Replay(path, func(Record) error { return nil })
	var checksumErr *ChecksumError
	require.True(t, errors.As(err, &checksumErr))
	assert.Equal(t, uint64(1), checksumErr.Seq)
}

func TestReplayDetectsCorruption(t *testing.T) {
	err := ReplayReader(strings.NewReader("{not json}\n"), func(Record) error { return nil })

	var corruptErr *CorruptionError
	require.True(t, errors.As(err, &corruptErr))
	assert.Equal(t, 1, corruptErr.Line)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReplayStopsOnHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Append(dispatch("B", 10)))
	require.NoError(t, l.Close())

	stop := errors.New("stop")
	seen := 0
	err = Replay(path, func(Record) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestIntervalFlushWithoutFurtherAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 64, 10*time.Millisecond)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(dispatch("A", 0)))
	require.Eventually(t, func() bool {
		return len(readAll(t, path)) == 1
	}, time.Second, 5*time.Millisecond, "an idle log should still flush on its interval")
}

func TestCloseStopsFlushLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 64, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Len(t, readAll(t, path), 1)
}

func TestOpenDropsTornLastRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Append(dispatch("B", 10)))
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":3,"ev`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err = Open(path, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.LastSeq())
	assert.Equal(t, int64(len(`{"seq":3,"ev`)), l.Truncated())

	require.NoError(t, l.Append(dispatch("C", 22)))
	require.NoError(t, l.Close())

	records := readAll(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[2].Seq)
	assert.Equal(t, types.JobID("C"), records[2].Event.Job)
}

func TestOpenTerminatesUnterminatedLastRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSuffix(string(data), "\n")), 0644))

	l, err = Open(path, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, l.Truncated())
	require.NoError(t, l.Append(dispatch("B", 10)))
	require.NoError(t, l.Close())

	assert.Len(t, readAll(t, path), 2)
}

func TestOpenRejectsCorruptionBeforeTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	l, err := Open(path, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(dispatch("A", 0)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("{broken\n"), data...), 0644))

	_, err = Open(path, 1, 0)
	var corruptErr *CorruptionError
	require.True(t, errors.As(err, &corruptErr))
	assert.Equal(t, 1, corruptErr.Line)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, after, len(data)+len("{broken\n"), "a damaged file must be left untouched")
}
