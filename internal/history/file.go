package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"usagewatch/internal/config"
	logx "usagewatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl (one entry per line, rewritten on prune)
//   - <prefix>.state.json    (runtime state, written atomically)
//
// The history window is small (one entry per check cycle, one week deep),
// so the whole log fits comfortably in memory.
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	historyPath string
	statePath   string
	entries     []Entry
}

func openFile(cfg config.StorageConfig, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:         log,
		historyPath: prefix + ".history.jsonl",
		statePath:   prefix + ".state.json",
	}
	if err := st.loadHistory(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *fileStore) loadHistory() error {
	f, err := os.Open(s.historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.At.IsZero() {
			continue
		}
		s.entries = append(s.entries, e)
	}
	return sc.Err()
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := e.At.Add(-Retention)
	kept := s.entries[:0]
	for _, old := range s.entries {
		if !old.At.Before(cutoff) {
			kept = append(kept, old)
		}
	}
	s.entries = append(kept, e)
	return s.rewriteLocked()
}

func (s *fileStore) rewriteLocked() error {
	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range s.entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.historyPath)
}

func (s *fileStore) Range(ctx context.Context, since time.Time) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *fileStore) LoadState(ctx context.Context) (State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		s.log.Warn("discarding unreadable runtime state", logx.Err(err))
		return State{}, nil
	}
	return st, nil
}

func (s *fileStore) SaveState(ctx context.Context, st State) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}
