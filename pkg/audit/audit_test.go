package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent(3, OpPortSyncDown)

	if event.Device != "0000000000000003" {
		t.Errorf("Device = %q, want %q", event.Device, "0000000000000003")
	}
	if event.Operation != OpPortSyncDown {
		t.Errorf("Operation = %q, want %q", event.Operation, OpPortSyncDown)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if NewEvent(3, OpPortSyncDown).ID == event.ID {
		t.Error("IDs should be unique")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent(1, OpPathSwap).
		WithPort(3).
		WithDetail("in_port=1 -> output:3").
		WithSuccess()

	if event.Port != 3 {
		t.Errorf("Port = %d", event.Port)
	}
	if event.Detail != "in_port=1 -> output:3" {
		t.Errorf("Detail = %q", event.Detail)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent(3, OpPortSyncDown).WithError(errors.New("no port record"))
	if event.Success {
		t.Error("Success should be false")
	}
	if event.Error != "no port record" {
		t.Errorf("Error = %q", event.Error)
	}

	event2 := NewEvent(3, OpPortSyncDown).WithError(nil)
	if event2.Success || event2.Error != "" {
		t.Errorf("nil error: Success=%v Error=%q", event2.Success, event2.Error)
	}
}

func newTestLogger(t *testing.T, rotation RotationConfig) (*FileLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(logPath, rotation)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, logPath
}

func TestFileLogger_QueryFilters(t *testing.T) {
	logger, _ := newTestLogger(t, RotationConfig{})

	events := []*Event{
		NewEvent(1, OpDeviceConnect).WithSuccess(),
		NewEvent(2, OpDeviceConnect).WithSuccess(),
		NewEvent(1, OpPathSwap).WithPort(3).WithSuccess(),
		NewEvent(3, OpPortSyncDown).WithError(errors.New("unresolved")),
	}
	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by device", Filter{Device: "0000000000000001"}, 2},
		{"by operation", Filter{Operation: OpDeviceConnect}, 2},
		{"success only", Filter{SuccessOnly: true}, 3},
		{"failure only", Filter{FailureOnly: true}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"offset", Filter{Offset: 3}, 1},
		{"offset past end", Filter{Offset: 10}, 0},
		{"future start", Filter{StartTime: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := logger.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("got %d events, want %d", len(results), tt.want)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	logger, path := newTestLogger(t, RotationConfig{})
	logger.Log(NewEvent(3, OpPortSyncUp).WithPort(2).WithSuccess())

	events, err := ReadFile(path, Filter{Operation: OpPortSyncUp})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(events) != 1 || events[0].Port != 2 {
		t.Fatalf("ReadFile = %+v", events)
	}

	missing, err := ReadFile(filepath.Join(t.TempDir(), "none.log"), Filter{})
	if err != nil || len(missing) != 0 {
		t.Errorf("missing file: events=%v err=%v", missing, err)
	}
}

func TestFileLogger_SkipsMalformedLines(t *testing.T) {
	logger, path := newTestLogger(t, RotationConfig{})
	logger.Log(NewEvent(1, OpDeviceConnect).WithSuccess())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json\n")
	f.Close()

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	logger, path := newTestLogger(t, RotationConfig{MaxSize: 1, MaxBackups: 2})

	for i := 0; i < 5; i++ {
		if err := logger.Log(NewEvent(1, OpPathSwap).WithSuccess()); err != nil {
			t.Fatalf("Log %d: %v", i, err)
		}
	}

	backups, _ := filepath.Glob(path + ".*")
	if len(backups) > 2 {
		t.Errorf("kept %d backups, want at most 2", len(backups))
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(current), "\n"); n != 1 {
		t.Errorf("current file holds %d events, want 1", n)
	}

	// Query spans the current file and the retained backups.
	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if want := len(backups) + 1; len(events) != want {
		t.Errorf("Query returned %d events, want %d", len(events), want)
	}
}

func TestReadFile_SpansBackups(t *testing.T) {
	logger, path := newTestLogger(t, RotationConfig{MaxSize: 1})
	for _, port := range []uint32{3, 2, 3} {
		logger.Log(NewEvent(1, OpPathSwap).WithPort(port).WithSuccess())
	}

	events, err := ReadFile(path, Filter{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []uint32{3, 2, 3} {
		if events[i].Port != want {
			t.Errorf("event %d port = %d, want %d (oldest first)", i, events[i].Port, want)
		}
	}

	page, _ := ReadFile(path, Filter{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Port != 2 {
		t.Errorf("paged read = %+v", page)
	}
}
