package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrTraceWrite reports a failed append or rewrite.
	ErrTraceWrite = errors.New("trace write failed")

	// ErrNotFound reports an unknown trace id.
	ErrNotFound = errors.New("trace not found")
)

// Ledger is a JSON-lines file of records. Appends and reward rewrites are
// serialized by a mutex within the process and by an advisory lock on a
// sibling ".lock" file across processes.
type Ledger struct {
	path     string
	lockPath string
	logger   *slog.Logger
	mu       sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Open prepares a ledger at path, creating its directory.
func Open(path string, opts ...Option) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("trace path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	l := &Ledger{path: path, lockPath: path + ".lock", logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the ledger file.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one record as a single line.
func (l *Ledger) Append(rec *Record) error {
	if rec.ConditionsEvaluated == nil {
		rec.ConditionsEvaluated = []string{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrTraceWrite, rec.TraceID, err)
	}
	line = append(line, '\n')

	unlock, err := l.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	return nil
}

// Load reads every record. A missing file is an empty ledger. Lines that
// fail to parse are skipped and logged.
func (l *Ledger) Load() ([]Record, error) {
	unlock, err := l.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, skipped, err := decode(f)
	if skipped > 0 {
		l.logger.Warn("skipped malformed trace lines", "path", l.path, "count", skipped)
	}
	return records, err
}

func decode(r io.Reader) ([]Record, int, error) {
	var (
		records []Record
		skipped int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, sc.Err()
}

// Get returns the record with the given id.
func (l *Ledger) Get(id string) (*Record, error) {
	records, err := l.Load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].TraceID == id {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// lock takes the in-process mutex and then the cross-process file lock.
func (l *Ledger) lock() (func(), error) {
	l.mu.Lock()
	fl, err := acquire(l.lockPath)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	return func() {
		fl.release()
		l.mu.Unlock()
	}, nil
}

// UpdateReward attaches a reward to one record. The file is rewritten to a
// temporary sibling and renamed into place under the append lock. Every
// other line, including ones that do not parse, is copied unchanged.
func (l *Ledger) UpdateReward(id string, reward float64) error {
	unlock, err := l.lock()
	if err != nil {
		return err
	}
	defer unlock()

	src, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	defer os.Remove(tmp.Name())

	found, err := rewriteReward(src, tmp, id, reward)
	if err != nil {
		tmp.Close()
		return err
	}
	if !found {
		tmp.Close()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	return nil
}

// rewriteReward copies src to dst line by line, re-encoding only the first
// record whose id matches.
func rewriteReward(src io.Reader, dst io.Writer, id string, reward float64) (bool, error) {
	w := bufio.NewWriter(dst)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64<<10), 16<<20)

	found := false
	for sc.Scan() {
		line := sc.Bytes()
		if !found {
			var rec Record
			if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err == nil && rec.TraceID == id {
				rec.SetReward(reward)
				encoded, err := json.Marshal(&rec)
				if err != nil {
					return false, fmt.Errorf("%w: encode %s: %v", ErrTraceWrite, id, err)
				}
				line = encoded
				found = true
			}
		}
		if _, err := w.Write(line); err != nil {
			return false, fmt.Errorf("%w: %v", ErrTraceWrite, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return false, fmt.Errorf("%w: %v", ErrTraceWrite, err)
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrTraceWrite, err)
	}
	return found, nil
}
