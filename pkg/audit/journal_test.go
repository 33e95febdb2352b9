package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeRecord(turn string, actuator int) Record {
	return Record{
		Time:       time.Now().UTC().Truncate(time.Millisecond),
		SessionID:  "s1",
		TurnID:     turn,
		ActuatorID: actuator,
		Action:     "turnOff",
		Value:      0,
		OK:         true,
	}
}

func collect(t *testing.T, j *Journal) []Record {
	t.Helper()
	var records []Record
	if err := j.Replay(func(rec Record) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	return records
}

func TestAppendReplayRoundTrip(t *testing.T) {
	t.Parallel()
	j, err := Open(t.TempDir(), WithDisabledSync())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 5; i++ {
		if err := j.Append(makeRecord("t1", 39+i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records := collect(t, j)
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.ActuatorID != 39+i {
			t.Fatalf("record %d out of order: %+v", i, rec)
		}
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := Open(dir, WithDisabledSync())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Append(makeRecord("t1", 39)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Append(makeRecord("t2", 40)); err != ErrClosed {
		t.Fatalf("append after close: %v", err)
	}

	reopened, err := Open(dir, WithDisabledSync())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Append(makeRecord("t2", 40)); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	records := collect(t, reopened)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TurnID != "t1" || records[1].TurnID != "t2" {
		t.Fatalf("order wrong: %+v", records)
	}
}

func TestSegmentRotation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := Open(dir, WithDisabledSync(), WithSegmentBytes(256))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 10; i++ {
		if err := j.Append(makeRecord("t1", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple segments, found %d", len(entries))
	}
	if got := collect(t, j); len(got) != 10 {
		t.Fatalf("replay across segments returned %d records", len(got))
	}
}

func TestPartialTailDroppedOnOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := Open(dir, WithDisabledSync())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Append(makeRecord("t1", 39)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-write: dangling header bytes at the tail.
	path := filepath.Join(dir, segmentName(1))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := file.Write([]byte{0xAD, 0x17}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	file.Close()

	reopened, err := Open(dir, WithDisabledSync())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	records := collect(t, reopened)
	if len(records) != 1 || records[0].ActuatorID != 39 {
		t.Fatalf("recovery kept wrong records: %+v", records)
	}

	// The journal must keep accepting appends after recovery.
	if err := reopened.Append(makeRecord("t2", 40)); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if got := collect(t, reopened); len(got) != 2 {
		t.Fatalf("expected 2 records after recovery append, got %d", len(got))
	}
}
