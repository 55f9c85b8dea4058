package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ahrav/go-arena/internal/domain"
)

// SQLiteStore keeps submitted conversations in two tables: conversations and
// turns. Each turn row carries the configuration it was played under.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates tables if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		failure_mode TEXT NOT NULL,
		intent TEXT NOT NULL,
		sub_category TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		overall_failure TEXT NOT NULL,
		failure_comments TEXT NOT NULL,
		failure_turns TEXT NOT NULL,
		transcript TEXT NOT NULL,
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		conversation_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		failure_mode TEXT NOT NULL,
		intent TEXT NOT NULL,
		sub_category TEXT NOT NULL,
		user_prompt TEXT NOT NULL,
		response_a TEXT NOT NULL,
		response_b TEXT NOT NULL,
		selected_model TEXT NOT NULL,
		failed_a INTEGER NOT NULL,
		failed_b INTEGER NOT NULL,
		comment TEXT NOT NULL,
		rating_a TEXT NOT NULL,
		rating_b TEXT NOT NULL,
		better_response_a TEXT NOT NULL,
		better_response_b TEXT NOT NULL,
		PRIMARY KEY (conversation_id, turn_index),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Save implements Store. The conversation and its turns are written in one
// transaction; an existing conversation id is left untouched.
func (s *SQLiteStore) Save(ctx context.Context, sub domain.Submission) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cfg := sub.Configuration
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations
		 (id, failure_mode, intent, sub_category, system_prompt, overall_failure,
		  failure_comments, failure_turns, transcript, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ConversationID, cfg.FailureMode, cfg.Intent, cfg.SubCategory, cfg.SystemPrompt,
		sub.OverallFailure, FailureComments(sub), FailureTurns(sub),
		FormatTranscript(sub.Turns), sub.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for _, t := range sub.Turns {
		ev := t.Evaluation
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turns
			 (conversation_id, turn_index, failure_mode, intent, sub_category,
			  user_prompt, response_a, response_b, selected_model, failed_a, failed_b,
			  comment, rating_a, rating_b, better_response_a, better_response_b)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.ConversationID, t.Index,
			t.Configuration.FailureMode, t.Configuration.Intent, t.Configuration.SubCategory,
			t.A.UserPrompt, t.A.ModelResponse, t.B.ModelResponse,
			ev.SelectedModel, ev.Failed.A, ev.Failed.B, ev.Comment,
			ev.Ratings.A, ev.Ratings.B, ev.BetterResponse.A, ev.BetterResponse.B,
		)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads a stored conversation back. It returns domain.ErrNotFound for
// an unknown id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (domain.Submission, error) {
	sub := domain.Submission{ConversationID: id}
	var submittedAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT failure_mode, intent, sub_category, system_prompt, overall_failure, submitted_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&sub.Configuration.FailureMode, &sub.Configuration.Intent, &sub.Configuration.SubCategory,
		&sub.Configuration.SystemPrompt, &sub.OverallFailure, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("scan conversation: %w", err)
	}
	sub.SubmittedAt = submittedAt.UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_index, failure_mode, intent, sub_category, user_prompt, response_a, response_b,
		        selected_model, failed_a, failed_b, comment, rating_a, rating_b,
		        better_response_a, better_response_b
		 FROM turns WHERE conversation_id = ? ORDER BY turn_index`, id)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t domain.Turn
		ev := &t.Evaluation
		if err := rows.Scan(&t.Index,
			&t.Configuration.FailureMode, &t.Configuration.Intent, &t.Configuration.SubCategory,
			&t.A.UserPrompt, &t.A.ModelResponse, &t.B.ModelResponse,
			&ev.SelectedModel, &ev.Failed.A, &ev.Failed.B, &ev.Comment,
			&ev.Ratings.A, &ev.Ratings.B, &ev.BetterResponse.A, &ev.BetterResponse.B,
		); err != nil {
			return domain.Submission{}, fmt.Errorf("scan turn: %w", err)
		}
		t.B.UserPrompt = t.A.UserPrompt
		t.Configuration.SystemPrompt = sub.Configuration.SystemPrompt
		sub.Turns = append(sub.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Submission{}, fmt.Errorf("iterate turns: %w", err)
	}
	return sub, nil
}

// Count returns the number of stored conversations.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}
