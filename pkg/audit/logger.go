package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/newtron-network/newtflow/pkg/util"
)

// Logger defines the interface for audit logging backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig configures log file rotation. A zero MaxSize never rotates;
// a zero MaxBackups keeps every backup.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// backupStamp is appended to rotated files; it sorts chronologically.
const backupStamp = "20060102-150405.000000"

// FileLogger appends events to a JSON-lines file and rotates it by size.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileLogger opens (or creates) the log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file, l.size = file, info.Size()
	return nil
}

// Log appends one event, rotating first when the file has reached MaxSize.
func (l *FileLogger) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotation.MaxSize > 0 && l.size >= l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

// Query searches the log and its retained backups, oldest first.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReadFile(l.path, filter)
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadFile searches the log at path and its rotated backups without opening
// it for writing. A missing log yields no events.
func ReadFile(path string, filter Filter) ([]*Event, error) {
	files := append(backups(path), path)

	var events []*Event
	for _, f := range files {
		found, err := scanFile(f, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
	}
	return filter.page(events), nil
}

func scanFile(path string, filter Filter) ([]*Event, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			util.Warnf("audit: skipping malformed entry %s:%d: %v", filepath.Base(path), line, err)
			continue
		}
		if filter.Match(&ev) {
			events = append(events, &ev)
		}
	}
	return events, scanner.Err()
}

// backups lists rotated files of path, oldest first.
func backups(path string) []string {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	base := l.path + "." + time.Now().Format(backupStamp)
	target := base
	for i := 1; exists(target); i++ {
		target = fmt.Sprintf("%s.%d", base, i)
	}
	if err := os.Rename(l.path, target); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}

	if keep := l.rotation.MaxBackups; keep > 0 {
		old := backups(l.path)
		for len(old) > keep {
			if err := os.Remove(old[0]); err != nil {
				util.Warnf("audit: removing %s: %v", old[0], err)
			}
			old = old[1:]
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
