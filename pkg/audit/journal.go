// Package audit persists every actuator command in an append-only,
// crash-recoverable journal. Records survive process restarts; a partial
// record at the tail of the last segment is dropped on open.
package audit

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultSegmentBytes limits every journal segment to 4MB before rotation.
	DefaultSegmentBytes int64 = 4 * 1024 * 1024

	recordMagic   uint32 = 0xAD170C0D
	recordVersion byte   = 1
	headerSize           = 4 + 1 + 4 // magic + version + payload length
	crcSize              = 4
)

var (
	// ErrClosed indicates the journal has already been closed.
	ErrClosed = errors.New("audit: journal closed")
	// ErrCorrupt signals on-disk record corruption.
	ErrCorrupt = errors.New("audit: corrupt record")

	errPartial = errors.New("audit: partial record")
)

// Record is one actuator command as observed during snippet execution.
type Record struct {
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	ActuatorID int       `json:"actuator_id"`
	Action     string    `json:"action"`
	Value      int       `json:"value"`
	OK         bool      `json:"ok"`
}

// Option configures a Journal.
type Option func(*Journal)

// WithSegmentBytes overrides the default segment size limit.
func WithSegmentBytes(n int64) Option {
	return func(j *Journal) {
		if n > headerSize+crcSize {
			j.segmentBytes = n
		}
	}
}

// WithDisabledSync turns off fsync (tests only).
func WithDisabledSync() Option {
	return func(j *Journal) { j.disableSync = true }
}

// Journal is a segmented append-only command log.
type Journal struct {
	dir          string
	segmentBytes int64
	disableSync  bool

	mu       sync.Mutex
	segments []string
	file     *os.File
	writer   *bufio.Writer
	size     int64
	nextIdx  int64
	closed   bool
}

// Open initializes a journal rooted at dir, creating it if needed and
// truncating any partial record left by a crash.
func Open(dir string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir %s: %w", dir, err)
	}
	j := &Journal{dir: dir, segmentBytes: DefaultSegmentBytes, nextIdx: 1}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.loadSegments(); err != nil {
		return nil, err
	}
	if err := j.openTail(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append persists one record. A zero Time is stamped with the current UTC time.
func (j *Journal) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	frame := encodeFrame(payload)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.size+int64(len(frame)) > j.segmentBytes {
		if err := j.rollLocked(); err != nil {
			return err
		}
	}
	if _, err := j.writer.Write(frame); err != nil {
		return err
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	j.size += int64(len(frame))
	if !j.disableSync {
		return j.file.Sync()
	}
	return nil
}

// Replay walks every record in append order.
func (j *Journal) Replay(apply func(Record) error) error {
	if apply == nil {
		return fmt.Errorf("audit: replay callback required")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return err
		}
	}
	for _, path := range j.segments {
		if err := replaySegment(path, apply); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	var err error
	if j.writer != nil {
		err = j.writer.Flush()
	}
	if j.file != nil {
		if !j.disableSync {
			if syncErr := j.file.Sync(); syncErr != nil && err == nil {
				err = syncErr
			}
		}
		if closeErr := j.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	j.file = nil
	j.writer = nil
	return err
}

func (j *Journal) loadSegments() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	var indexes []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if idx, ok := parseSegmentIndex(entry.Name()); ok {
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, k int) bool { return indexes[i] < indexes[k] })
	for _, idx := range indexes {
		j.segments = append(j.segments, filepath.Join(j.dir, segmentName(idx)))
		j.nextIdx = idx + 1
	}
	return nil
}

// openTail opens the newest segment for appending, first dropping any
// partial record a crash may have left behind.
func (j *Journal) openTail() error {
	if len(j.segments) == 0 {
		return j.rollLockedInit()
	}
	path := j.segments[len(j.segments)-1]
	valid, err := scanValidPrefix(path)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := file.Truncate(valid); err != nil {
		file.Close()
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return err
	}
	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = valid
	return nil
}

func (j *Journal) rollLocked() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	return j.rollLockedInit()
}

func (j *Journal) rollLockedInit() error {
	path := filepath.Join(j.dir, segmentName(j.nextIdx))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	j.nextIdx++
	j.segments = append(j.segments, path)
	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = 0
	return nil
}

// scanValidPrefix returns the byte length of the longest prefix of complete,
// checksum-valid records in the segment.
func scanValidPrefix(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var offset int64
	for {
		_, read, err := decodeFrame(reader)
		if err == io.EOF {
			return offset, nil
		}
		if errors.Is(err, errPartial) || errors.Is(err, ErrCorrupt) {
			return offset, nil
		}
		if err != nil {
			return 0, err
		}
		offset += read
	}
}

func replaySegment(path string, apply func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		payload, _, err := decodeFrame(reader)
		if err == io.EOF || errors.Is(err, errPartial) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("audit: decode record: %w", err)
		}
		if err := apply(rec); err != nil {
			return err
		}
	}
}

func encodeFrame(payload []byte) []byte {
	total := headerSize + len(payload) + crcSize
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], recordMagic)
	buf[4] = recordVersion
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	checksum := crc32.NewIEEE()
	checksum.Write(buf[4 : total-crcSize])
	binary.BigEndian.PutUint32(buf[total-crcSize:], checksum.Sum32())
	return buf
}

func decodeFrame(r io.Reader) ([]byte, int64, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, int64(n), errPartial
		}
		return nil, int64(n), err
	}
	if binary.BigEndian.Uint32(header[0:4]) != recordMagic || header[4] != recordVersion {
		return nil, int64(n), ErrCorrupt
	}
	payloadLen := int(binary.BigEndian.Uint32(header[5:9]))

	rest := make([]byte, payloadLen+crcSize)
	read, err := io.ReadFull(r, rest)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, int64(n + read), errPartial
		}
		return nil, int64(n + read), err
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(rest[:payloadLen])
	if checksum.Sum32() != binary.BigEndian.Uint32(rest[payloadLen:]) {
		return nil, int64(n + read), ErrCorrupt
	}
	payload := make([]byte, payloadLen)
	copy(payload, rest[:payloadLen])
	return payload, int64(n + read), nil
}

func segmentName(index int64) string {
	return fmt.Sprintf("audit-%06d.log", index)
}

func parseSegmentIndex(name string) (int64, bool) {
	if !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "audit-"), ".log")
	if trimmed == "" {
		return 0, false
	}
	var idx int64
	for _, ch := range trimmed {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		idx = idx*10 + int64(ch-'0')
	}
	return idx, true
}
