package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskcore/pkg/logx"
)

// fileStore keeps everything in plain files next to cfg.Path.
//
// Files:
//   - <prefix>.events.jsonl             (append-only JSON Lines)
//   - <prefix>.bench.jsonl              (append-only JSON Lines)
//   - <prefix>.baseline.snapshot.json   (periodic snapshot)
//   - <prefix>.baseline.journal.jsonl   (append-only journal)
//
// The baseline journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventsFile *os.File
	benchFile  *os.File

	baselineSnapshotPath string
	baselineJournalFile  *os.File
	baselines            map[string]uint64

	baselineWrites int
}

type baselineRecord struct {
	Name  string `json:"name"`
	Nanos uint64 `json:"avg_ns"`
}

const compactEvery = 256

func openFile(cfg Config, log logx.Logger) (Store, error) {
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

	appendOnly := func(p string) (*os.File, error) {
		return os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	}
	ef, err := appendOnly(prefix + ".events.jsonl")
	if err != nil {
		return nil, err
	}
	bf, err := appendOnly(prefix + ".bench.jsonl")
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	snapPath := prefix + ".baseline.snapshot.json"
	journalPath := prefix + ".baseline.journal.jsonl"
	baselines := map[string]uint64{}
	_ = loadBaselineSnapshot(snapPath, baselines)
	_ = replayBaselineJournal(journalPath, baselines)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		_ = bf.Close()
		return nil, err
	}

	return &fileStore{
		log:                  log,
		eventsFile:           ef,
		benchFile:            bf,
		baselineSnapshotPath: snapPath,
		baselineJournalFile:  jf,
		baselines:            baselines,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&s.eventsFile, &s.benchFile, &s.baselineJournalFile} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendEvent(_ context.Context, e EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return errors.New("events file closed")
	}
	return json.NewEncoder(s.eventsFile).Encode(e)
}

func (s *fileStore) AppendBenchmark(_ context.Context, r BenchmarkResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.benchFile == nil {
		return errors.New("bench file closed")
	}
	return json.NewEncoder(s.benchFile).Encode(r)
}

func (s *fileStore) PutBaseline(_ context.Context, name string, avgNanos uint64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselineJournalFile == nil {
		return errors.New("baseline journal closed")
	}
	s.baselines[name] = avgNanos

	if err := json.NewEncoder(s.baselineJournalFile).Encode(baselineRecord{Name: name, Nanos: avgNanos}); err != nil {
		return err
	}
	s.baselineWrites++
	if s.baselineWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("baseline compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetBaseline(_ context.Context, name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.baselines[strings.TrimSpace(name)]
	return ns, ok, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.baselineSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.baselines); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.baselineSnapshotPath); err != nil {
		return err
	}
	if err := s.baselineJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.baselineJournalFile.Seek(0, 2)
	return err
}

func loadBaselineSnapshot(path string, out map[string]uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]uint64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayBaselineJournal(path string, out map[string]uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r baselineRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Name == "" {
			continue
		}
		out[r.Name] = r.Nanos
	}
	return s.Err()
}
