package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
)

// DefaultCSVPath is the conversation log file name.
const DefaultCSVPath = "conversations_log.csv"

// CSVHeader is the first row of a new conversation log.
var CSVHeader = []string{
	"task_id",
	"failure_type",
	"category",
	"sub_category",
	"system_prompt",
	"failure_rate",
	"failure_comments",
	"failure_turns",
	"whole_conversation",
	"timestamp",
}

// CSVStore appends one row per conversation to a CSV log.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVStore returns a store appending to path, creating its directory.
func NewCSVStore(path string) (*CSVStore, error) {
	if path == "" {
		path = DefaultCSVPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &CSVStore{path: path}, nil
}

// Name implements Store.
func (s *CSVStore) Name() string { return "csv" }

// Path returns the log file.
func (s *CSVStore) Path() string { return s.path }

// Row renders sub as a log row in CSVHeader order.
func Row(sub domain.Submission) []string {
	cfg := sub.Configuration
	return []string{
		sub.ConversationID,
		string(cfg.FailureMode),
		string(cfg.Intent),
		cfg.SubCategory,
		cfg.SystemPrompt,
		string(sub.OverallFailure),
		FailureComments(sub),
		FailureTurns(sub),
		FormatTranscript(sub.Turns),
		sub.SubmittedAt.UTC().Format(time.RFC3339),
	}
}

// Save implements Store. The header is written when the file is new or
// empty; a conversation id already in the log is not written again.
func (s *CSVStore) Save(ctx context.Context, sub domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	defer f.Close()

	empty, exists, err := scanForID(f, sub.ConversationID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	w := csv.NewWriter(f)
	if empty {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := w.Write(Row(sub)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv log: %w", err)
	}
	return f.Sync()
}

// scanForID reports whether the log has no records and whether id is
// already present in the task_id column.
func scanForID(f *os.File, id string) (empty, exists bool, err error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, false, fmt.Errorf("read csv log: %w", err)
		}
		records++
		if records > 1 && len(rec) > 0 && rec[0] == id {
			return false, true, nil
		}
	}
	return records == 0, false, nil
}

// ReadAll returns every data row of the log, without the header.
func (s *CSVStore) ReadAll() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	defer f.Close()

	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv log: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[1:], nil
}
