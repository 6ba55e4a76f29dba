package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"offsync-go/internal/apierr"
)

// FileStore keeps the whole queue in a single JSON file, rewritten
// atomically on every mutation. Mobile-scale queues stay small enough
// that rewriting beats managing per-entry files.
type FileStore struct {
	path string

	mu      sync.Mutex
	nextSeq int64
	entries map[int64]*Entry
}

type fileState struct {
	NextSeq int64    `json:"next_seq"`
	Entries []*Entry `json:"entries"`
}

// NewFileStore builds a FileStore persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:    path,
		nextSeq: 1,
		entries: make(map[int64]*Entry),
	}
}

func (f *FileStore) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apierr.Storage("create queue directory", err)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierr.Storage("read queue file", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return apierr.Storage("decode queue file", err)
	}
	f.nextSeq = state.NextSeq
	if f.nextSeq < 1 {
		f.nextSeq = 1
	}
	f.entries = make(map[int64]*Entry, len(state.Entries))
	for _, e := range state.Entries {
		// a crash mid-replay leaves in_flight entries behind; they go
		// back to pending so the next drain picks them up
		if e.Status == StatusInFlight {
			e.Status = StatusPending
		}
		f.entries[e.Seq] = e
	}
	return nil
}

func (f *FileStore) Append(ctx context.Context, entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry.Seq = f.nextSeq
	entry.Status = StatusPending
	f.nextSeq++
	f.entries[entry.Seq] = cloneEntry(entry)
	return f.persistLocked()
}

func (f *FileStore) Pending(ctx context.Context) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked(StatusPending, StatusInFlight), nil
}

func (f *FileStore) Update(ctx context.Context, entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[entry.Seq]; !ok {
		return ErrNotFound
	}
	f.entries[entry.Seq] = cloneEntry(entry)
	return f.persistLocked()
}

func (f *FileStore) Delete(ctx context.Context, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[seq]; !ok {
		return ErrNotFound
	}
	delete(f.entries, seq)
	return f.persistLocked()
}

func (f *FileStore) DeadLetters(ctx context.Context) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked(StatusDeadLetter), nil
}

func (f *FileStore) PurgeDeadLetters(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for seq, e := range f.entries {
		if e.Status == StatusDeadLetter {
			delete(f.entries, seq)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, f.persistLocked()
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) listLocked(statuses ...Status) []*Entry {
	var out []*Entry
	for _, e := range f.entries {
		for _, s := range statuses {
			if e.Status == s {
				out = append(out, cloneEntry(e))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// persistLocked writes the state to a temp file then renames it into
// place so a crash never leaves a half-written queue behind.
func (f *FileStore) persistLocked() error {
	state := fileState{NextSeq: f.nextSeq, Entries: make([]*Entry, 0, len(f.entries))}
	for _, e := range f.entries {
		state.Entries = append(state.Entries, e)
	}
	sort.Slice(state.Entries, func(i, j int) bool { return state.Entries[i].Seq < state.Entries[j].Seq })

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apierr.Storage("encode queue state", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apierr.Storage("write queue file", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return apierr.Storage("replace queue file", err)
	}
	return nil
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Body != nil {
		cp.Body = append([]byte(nil), e.Body...)
	}
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}
