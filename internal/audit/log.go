// Package audit implements a hash-chained, append-only audit log: every
// record's hash covers the previous record's hash, so any tamper to an
// earlier record invalidates every hash computed after it.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
)

// Event is the caller-supplied payload of an audit record.
type Event struct {
	Actor    string      `json:"actor"`
	Role     string      `json:"role"`
	Action   string      `json:"action"`
	Resource string      `json:"resource"`
	Outcome  string      `json:"outcome"`
	Detail   interface{} `json:"detail,omitempty"`
}

// Record is one hash-chained entry of the audit log.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Event     Event     `json:"event"`
}

var genesisHash = make([]byte, 32)

// Writer owns the log file handle and the rolling previous-hash, serializing
// all appends behind a single mutex.
type Writer struct {
	mu       sync.Mutex
	path     string
	prevHash []byte
	mirror   *SQLMirror
}

// SetMirror attaches a SQL mirror that every subsequent Append also writes
// to.
func (w *Writer) SetMirror(m *SQLMirror) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mirror = m
}

// NewWriter opens (or creates) the log at path and hydrates prevHash from
// the last record on disk, if any.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Internal("create audit log directory", err)
		}
	}

	prevHash, err := hydratePrevHash(path)
	if err != nil {
		return nil, err
	}

	return &Writer{path: path, prevHash: prevHash}, nil
}

func hydratePrevHash(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return append([]byte(nil), genesisHash...), nil
		}
		return nil, apperrors.Internal("read audit log", err)
	}
	if len(data) == 0 {
		return append([]byte(nil), genesisHash...), nil
	}

	prev := append([]byte(nil), genesisHash...)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, apperrors.Internal("malformed audit log entry", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(record.Hash)
		if err != nil {
			return nil, apperrors.Internal("malformed audit log entry", err)
		}
		prev = decoded
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Internal("read audit log", err)
	}
	return prev, nil
}

// canonicalBytes renders event as stable JSON: sorted keys via a map
// round-trip, so hydration recomputes the identical bytes an append produced.
func canonicalBytes(event Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Append computes the next hash-chained record and writes it as one JSON line.
func (w *Writer) Append(event Event) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	canonical, err := canonicalBytes(event)
	if err != nil {
		return Record{}, apperrors.Internal("encode audit event", err)
	}

	hasher := sha256.New()
	hasher.Write(w.prevHash)
	hasher.Write(canonical)
	hash := hasher.Sum(nil)

	record := Record{
		Timestamp: time.Now().UTC(),
		PrevHash:  base64.StdEncoding.EncodeToString(w.prevHash),
		Hash:      base64.StdEncoding.EncodeToString(hash),
		Event:     event,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return Record{}, apperrors.Internal("encode audit record", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, apperrors.Internal("open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return Record{}, apperrors.Internal("write audit log", err)
	}

	w.prevHash = hash

	if w.mirror != nil {
		if err := w.mirror.Mirror(context.Background(), record); err != nil {
			return Record{}, apperrors.Internal("mirror audit record", err)
		}
	}

	return record, nil
}

// ReadAll returns every record in insertion order.
func (w *Writer) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return readAllLocked(w.path)
}

func readAllLocked(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Internal("read audit log", err)
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, apperrors.Internal("malformed audit log entry", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Internal("read audit log", err)
	}
	return records, nil
}

// Filter narrows an export query. Zero-value fields are unconstrained.
type Filter struct {
	Actor    string
	Action   string
	Resource string
	Outcome  string
	Since    time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Actor != "" && r.Event.Actor != f.Actor {
		return false
	}
	if f.Action != "" && r.Event.Action != f.Action {
		return false
	}
	if f.Resource != "" && r.Event.Resource != f.Resource {
		return false
	}
	if f.Outcome != "" && r.Event.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Export returns records matching filter, in insertion order.
func (w *Writer) Export(filter Filter) ([]Record, error) {
	all, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	if filter == (Filter{}) {
		return all, nil
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// VerifyChain recomputes every record's hash from the first record onward
// and reports the index of the first record whose stored hash disagrees
// with the recomputation, or -1 if the chain is intact.
func VerifyChain(records []Record) int {
	prev := genesisHash
	for i, r := range records {
		canonical, err := canonicalBytes(r.Event)
		if err != nil {
			return i
		}
		hasher := sha256.New()
		hasher.Write(prev)
		hasher.Write(canonical)
		expected := base64.StdEncoding.EncodeToString(hasher.Sum(nil))
		if expected != r.Hash {
			return i
		}
		decoded, err := base64.StdEncoding.DecodeString(r.Hash)
		if err != nil {
			return i
		}
		prev = decoded
	}
	return -1
}
