package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "jobmill/pkg/logx"
)

// recentKeep bounds the in-memory read-back window of the file driver.
const recentKeep = 256

// fileStore is a dependency-free archive backend.
//
// Files:
//   - <prefix>.records.jsonl (append-only JSON Lines)
//
// The file is never rewritten; the recent window is rebuilt from its tail
// on open and maintained in memory afterwards.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recordsFile *os.File
	recent      []Record
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("archive.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recordsPath := prefix + ".records.jsonl"

	// Rebuild the recent window before opening the append handle.
	recent, err := replayRecords(recordsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("archive replay failed; starting with empty window",
			logx.String("path", recordsPath), logx.Any("err", err))
	}

	rf, err := os.OpenFile(recordsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:         log,
		recordsFile: rf,
		recent:      recent,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordsFile == nil {
		return nil
	}
	err := s.recordsFile.Close()
	s.recordsFile = nil
	return err
}

func (s *fileStore) AppendRecord(ctx context.Context, r Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordsFile == nil {
		return errors.New("archive file closed")
	}
	enc := json.NewEncoder(s.recordsFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.recent = append(s.recent, r)
	if len(s.recent) > recentKeep {
		s.recent = s.recent[len(s.recent)-recentKeep:]
	}
	return nil
}

func (s *fileStore) RecentRecords(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Record, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func replayRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.JobID == "" {
			continue
		}
		out = append(out, r)
		if len(out) > recentKeep {
			out = out[len(out)-recentKeep:]
		}
	}
	return out, sc.Err()
}
