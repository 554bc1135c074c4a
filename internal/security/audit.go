// Package security holds the audit trail of capability decisions and the
// filesystem containment applied to role directories.
package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agenthost/internal/domain"
	"agenthost/internal/infra/tracer"
)

const maxAuditLine = 1024 * 1024

// FileAuditLogger implements domain.AuditLogger by writing JSONL to a file.
// Entries are hash-chained so VerifyAuditLog can detect edits. Each entry is
// also attached to the active span as an event.
type FileAuditLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
	last string // chain value of the newest entry
}

// NewFileAuditLogger creates an audit logger that appends to the given path,
// continuing the chain of any existing entries. The file is created with
// 0600 permissions if it does not exist.
func NewFileAuditLogger(path string) (*FileAuditLogger, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	last, err := lastChain(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileAuditLogger{file: f, path: path, last: last}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// Log writes an audit event as a single JSON line.
func (a *FileAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	a.mu.Lock()
	err := a.append(event)
	a.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	tracer.AddEvent(ctx, "audit."+string(event.Type), spanAttrs(event)...)
	return nil
}

func (a *FileAuditLogger) append(event domain.AuditEvent) error {
	chain, err := chainHash(a.last, event)
	if err != nil {
		return err
	}
	event.Chain = chain
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return err
	}
	a.last = chain
	return nil
}

func spanAttrs(event domain.AuditEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		tracer.StringAttr("audit.actor", event.Actor),
		tracer.StringAttr("audit.resource", event.Resource),
		tracer.StringAttr("audit.outcome", event.Outcome),
	}
	keys := make([]string, 0, len(event.Detail))
	for k := range event.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, tracer.StringAttr("audit."+k, event.Detail[k]))
	}
	return attrs
}

// Close flushes and closes the audit log file.
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// ReadAuditLog returns the events in path that match keep, oldest first. A nil
// keep returns every event. Malformed lines are skipped.
func ReadAuditLog(path string, keep func(domain.AuditEvent) bool) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var out []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxAuditLine)
	for scanner.Scan() {
		var e domain.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return out, nil
}

// Prune drops entries older than maxAge and returns how many were removed.
// The surviving entries are re-chained from an empty head. The log stays
// usable while pruning; writers block until it finishes.
func (a *FileAuditLogger) Prune(_ context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := ReadAuditLog(a.path, nil)
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	for _, e := range all {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	last, err := rechain(kept)
	if err != nil {
		return 0, fmt.Errorf("rechain audit log: %w", err)
	}

	tmpPath := a.path + ".tmp"
	if err := writeEvents(tmpPath, kept); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for prune: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		a.file, _ = openAppend(a.path)
		return 0, fmt.Errorf("rename pruned audit log: %w", err)
	}
	a.last = last
	if a.file, err = openAppend(a.path); err != nil {
		return removed, fmt.Errorf("reopen after prune: %w", err)
	}
	return removed, nil
}

func writeEvents(path string, events []domain.AuditEvent) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create pruned audit log: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("write pruned audit log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush pruned audit log: %w", err)
	}
	return f.Close()
}
