// Package audittrail implements the tamper-evidence half of C10:
// audit_events are also append-written to a per-user date-keyed JSONL
// file via the storage adapter, each line hash-chained to the previous
// one so a line cannot be edited or deleted in place without breaking
// every hash after it.
//
// Grounded on internal/adapter/outbound/audit/file_store.go's date-keyed
// JSONL append pattern, generalized from "one directory of
// audit-YYYY-MM-DD.log files with size-rotation and an in-memory ring
// cache" to "one file per user per day, routed through the shared
// storage adapter instead of direct os.File handling" (so it gets the
// same per-user path scoping C1 already provides), plus the hash chain
// RFC 8785 (JCS) canonicalization makes reproducible across writers.
package audittrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/storage"
	"github.com/cyfrworks/cyfr/internal/domain/auditlog"
)

// Entry is one hash-chained JSONL line.
type Entry struct {
	Record   auditlog.AuditEventRecord `json:"record"`
	PrevHash string                    `json:"prev_hash"`
	Hash     string                    `json:"hash"`
}

// Writer appends hash-chained audit event entries. One Writer instance
// should be shared process-wide so its in-memory chain heads stay
// consistent; heads are lazily rehydrated from disk on first write per
// user so a process restart does not break the chain.
type Writer struct {
	storage *storage.Adapter
	logger  *slog.Logger

	mu    sync.Mutex
	heads map[string]string // userID -> last entry hash for today's file
	dates map[string]string // userID -> date the cached head belongs to
}

// New builds a Writer over storageAdapter.
func New(storageAdapter *storage.Adapter, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		storage: storageAdapter,
		logger:  logger,
		heads:   make(map[string]string),
		dates:   make(map[string]string),
	}
}

// Append canonicalizes rec via JCS, chains it to the previous entry for
// rec.UserID, and appends the resulting line to that user's
// audit/<date>.jsonl file. Errors are returned to the caller (an
// AuditLogService wraps this and swallows failures per spec.md §3's
// "log writes never fail the request" rule); Writer itself stays honest
// about whether the append succeeded.
func (w *Writer) Append(_ context.Context, rec auditlog.AuditEventRecord) error {
	date := rec.CreatedAt.UTC().Format("2006-01-02")
	userID := rec.UserID

	recordBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audittrail: marshal record: %w", err)
	}
	canonical, err := jcs.Transform(recordBytes)
	if err != nil {
		return fmt.Errorf("audittrail: canonicalize record: %w", err)
	}

	w.mu.Lock()
	prev, err := w.headLocked(userID, date)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	sum := sha256.Sum256(append([]byte(prev), canonical...))
	hash := hex.EncodeToString(sum[:])

	entry := Entry{Record: rec, PrevHash: prev, Hash: hash}
	line, err := json.Marshal(entry)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("audittrail: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if err := w.storage.Append(userID, line, "audit", date+".jsonl"); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("audittrail: append: %w", err)
	}
	w.heads[userID] = hash
	w.dates[userID] = date
	w.mu.Unlock()
	return nil
}

// headLocked returns the chain head for userID on date, rehydrating from
// the on-disk file if the in-memory cache is empty or stale for a new
// date. Must be called with w.mu held.
func (w *Writer) headLocked(userID, date string) (string, error) {
	if w.dates[userID] == date {
		return w.heads[userID], nil
	}
	data, err := w.storage.Get(userID, "audit", date+".jsonl")
	if errors.Is(err, storage.ErrNotFound) {
		// No file yet for this user/date: this is the genesis entry.
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audittrail: read chain head for %s/%s: %w", userID, date, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	last := lines[len(lines)-1]
	if last == "" {
		return "", nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return "", fmt.Errorf("audittrail: rehydrate chain head for %s/%s: %w", userID, date, err)
	}
	return entry.Hash, nil
}

// Verify reads userID's JSONL file for date and recomputes the hash
// chain, returning the zero-based line indexes where the recorded hash
// does not match what JCS canonicalization + the chain would produce —
// an empty, non-nil slice means the file is intact.
func (w *Writer) Verify(_ context.Context, userID, date string) ([]int, error) {
	data, err := w.storage.Get(userID, "audit", date+".jsonl")
	if err != nil {
		return nil, fmt.Errorf("audittrail: read %s/%s: %w", userID, date, err)
	}
	var broken []int
	prev := ""
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			broken = append(broken, i)
			continue
		}
		recordBytes, err := json.Marshal(entry.Record)
		if err != nil {
			broken = append(broken, i)
			continue
		}
		canonical, err := jcs.Transform(recordBytes)
		if err != nil {
			broken = append(broken, i)
			continue
		}
		sum := sha256.Sum256(append([]byte(entry.PrevHash), canonical...))
		wantHash := hex.EncodeToString(sum[:])
		if entry.PrevHash != prev || entry.Hash != wantHash {
			broken = append(broken, i)
		}
		prev = entry.Hash
	}
	if broken == nil {
		broken = []int{}
	}
	return broken, nil
}
