package trace

// ============================================================================
// Trace log core
// Responsibilities:
// 1. Append scheduling events to a JSON-lines file (append-only)
// 2. Buffer records and flush by count or by interval (background loop)
// 3. Continue the sequence of an existing file, dropping a torn last line
// 4. Replay records with checksum verification
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/periperidip/rtsched/pkg/types"
)

// Record is one line of the trace file.
type Record struct {
	Seq       uint64      `json:"seq"`       // Monotonically increasing sequence number
	Timestamp int64       `json:"timestamp"` // Unix millisecond wall-clock time of the append
	Event     types.Event `json:"event"`
	Checksum  uint32      `json:"checksum"` // CRC32 over seq and event
}

// Checksum computes the CRC32-IEEE checksum of a record's seq and event.
// The timestamp is excluded.
func Checksum(seq uint64, ev types.Event) uint32 {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0
	}
	h := crc32.NewIEEE()
	fmt.Fprintf(h, "%d:", seq)
	h.Write(payload)
	return h.Sum32()
}

// Log is an append-only trace file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	seq    uint64
	closed bool

	buffer        []Record
	bufferSize    int
	flushInterval time.Duration
	lastFlush     time.Time
	truncated     int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open creates or opens the trace file at path. An existing file is
// scanned so the sequence continues where it stopped; an undecodable last
// line left by an interrupted write is cut off. With a positive
// flushInterval a background loop flushes buffered records even when no
// new events arrive.
func Open(path string, bufferSize int, flushInterval time.Duration) (*Log, error) {
	if bufferSize <= 0 {
		return nil, ErrInvalidBufferSize
	}

	seq, truncated, err := recoverTail(path)
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing trace: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	l := &Log{
		file:          file,
		writer:        bufio.NewWriter(file),
		path:          path,
		seq:           seq,
		buffer:        make([]Record, 0, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		lastFlush:     time.Now(),
		truncated:     truncated,
		done:          make(chan struct{}),
	}
	if flushInterval > 0 {
		l.wg.Add(1)
		go l.flushLoop()
	}
	return l, nil
}

// recoverTail returns the last sequence number of the file at path. A
// final line that cannot be decoded is truncated away and its length
// returned. Damage anywhere before the last line is an error.
func recoverTail(path string) (seq uint64, truncated int64, err error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var offset int64
	line := 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			body := bytes.TrimSpace(raw)
			if len(body) > 0 {
				var rec Record
				if decodeErr := json.Unmarshal(body, &rec); decodeErr != nil {
					if _, peekErr := reader.Peek(1); peekErr != io.EOF {
						return 0, 0, &CorruptionError{Line: line, Cause: decodeErr}
					}
					info, statErr := file.Stat()
					if statErr != nil {
						return 0, 0, statErr
					}
					if err := file.Truncate(offset); err != nil {
						return 0, 0, fmt.Errorf("truncate torn record: %w", err)
					}
					return seq, info.Size() - offset, nil
				}
				if expected := Checksum(rec.Seq, rec.Event); expected != rec.Checksum {
					return 0, 0, &ChecksumError{Seq: rec.Seq, Expected: expected, Actual: rec.Checksum}
				}
				seq = rec.Seq
			}
			offset += int64(len(raw))
		}
		if readErr == io.EOF {
			if len(raw) > 0 && raw[len(raw)-1] != '\n' {
				// The last record is whole but unterminated.
				if _, err := file.WriteAt([]byte{'\n'}, offset); err != nil {
					return 0, 0, fmt.Errorf("terminate last record: %w", err)
				}
			}
			return seq, 0, nil
		}
		if readErr != nil {
			return 0, 0, readErr
		}
	}
}

// flushLoop writes buffered records every flushInterval until Close.
func (l *Log) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.closed && len(l.buffer) > 0 {
				// A failed flush keeps the records buffered for the next try.
				_ = l.flushLocked()
			}
			l.mu.Unlock()
		}
	}
}

// Truncated returns the number of bytes Open cut from a torn last line.
func (l *Log) Truncated() int64 {
	return l.truncated
}

// Path returns the trace file path.
func (l *Log) Path() string {
	return l.path
}

// Append adds an event. Records are written once the buffer is full or the
// flush interval has elapsed.
func (l *Log) Append(ev types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.seq++
	l.buffer = append(l.buffer, Record{
		Seq:       l.seq,
		Timestamp: time.Now().UnixMilli(),
		Event:     ev,
		Checksum:  Checksum(l.seq, ev),
	})

	if len(l.buffer) >= l.bufferSize || (l.flushInterval > 0 && time.Since(l.lastFlush) >= l.flushInterval) {
		return l.flushLocked()
	}
	return nil
}

// Flush writes all buffered records and syncs the file.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.flushLocked()
}

// LastSeq returns the sequence number of the most recent record.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close stops the flush loop, flushes and closes the file. A closed log
// must not be reused.
func (l *Log) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	flushErr := l.flushLocked()
	l.closed = true
	if err := l.file.Close(); err != nil {
		return err
	}
	return flushErr
}

// flushLocked assumes l.mu is held.
func (l *Log) flushLocked() error {
	l.lastFlush = time.Now()
	if len(l.buffer) == 0 {
		return nil
	}

	enc := json.NewEncoder(l.writer)
	for _, r := range l.buffer {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("trace: encode seq=%d: %w", r.Seq, err)
		}
	}
	l.buffer = l.buffer[:0]

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("trace: write: %w", err)
	}
	return l.file.Sync()
}

// Replay reads every record of the file at path in order, verifies its
// checksum and calls fn. It stops at the first error.
func Replay(path string, fn func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return ReplayReader(file, fn)
}

// ReplayReader is Replay over an arbitrary reader.
func ReplayReader(r io.Reader, fn func(Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if expected := Checksum(rec.Seq, rec.Event); expected != rec.Checksum {
			return &ChecksumError{Seq: rec.Seq, Expected: expected, Actual: rec.Checksum}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
