package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

const defaultListLimit = 50

// SQLiteStore 基于 SQLite 的 Repository 实现
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite 打开 dbPath 处的数据库，不存在时创建
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 只保留一个写连接，并发关闭回合时不会出现 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS round_results (
		round_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		mode TEXT NOT NULL,
		question_id TEXT NOT NULL,
		question_prompt TEXT NOT NULL,
		final_answer TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		transcript_json TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_round_results_topic ON round_results(topic, closed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping 检查数据库连接
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult 按回合 ID 插入或覆盖结果
func (s *SQLiteStore) SaveResult(ctx context.Context, result roundmodel.Result) error {
	if result.RoundID == "" {
		return errors.New("round id is required")
	}

	transcript, err := json.Marshal(result.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	mode, err := result.Mode.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal mode: %w", err)
	}

	query := `
	INSERT INTO round_results (round_id, topic, mode, question_id, question_prompt, final_answer, notes, transcript_json, elapsed_ms, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(round_id) DO UPDATE SET
		final_answer = excluded.final_answer,
		notes = excluded.notes,
		transcript_json = excluded.transcript_json,
		elapsed_ms = excluded.elapsed_ms,
		closed_at = excluded.closed_at`

	_, err = s.db.ExecContext(ctx, query,
		result.RoundID, strings.ToLower(result.Topic), string(mode),
		result.Question.ID, result.Question.Prompt,
		result.FinalAnswer, result.Notes, string(transcript),
		result.Elapsed.Milliseconds(), result.ClosedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult 读取单个结果
func (s *SQLiteStore) GetResult(ctx context.Context, roundID string) (roundmodel.Result, error) {
	query := `
		SELECT round_id, topic, mode, question_id, question_prompt, final_answer, notes, transcript_json, elapsed_ms, closed_at
		FROM round_results WHERE round_id = ?`

	result, err := scanResult(s.db.QueryRowContext(ctx, query, roundID))
	if errors.Is(err, sql.ErrNoRows) {
		return roundmodel.Result{}, ErrResultNotFound
	}
	return result, err
}

// ListResults 按时间倒序返回最多 limit 条结果
func (s *SQLiteStore) ListResults(ctx context.Context, topic string, limit int) ([]roundmodel.Result, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT round_id, topic, mode, question_id, question_prompt, final_answer, notes, transcript_json, elapsed_ms, closed_at
		FROM round_results`
	args := []any{}
	if topic = strings.ToLower(strings.TrimSpace(topic)); topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY closed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]roundmodel.Result, 0)
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (roundmodel.Result, error) {
	var (
		result     roundmodel.Result
		mode       string
		transcript string
		elapsedMS  int64
		closedAt   int64
	)

	err := row.Scan(
		&result.RoundID, &result.Topic, &mode,
		&result.Question.ID, &result.Question.Prompt,
		&result.FinalAnswer, &result.Notes, &transcript,
		&elapsedMS, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return roundmodel.Result{}, err
		}
		return roundmodel.Result{}, fmt.Errorf("scan result row: %w", err)
	}

	if err := result.Mode.UnmarshalText([]byte(mode)); err != nil {
		return roundmodel.Result{}, fmt.Errorf("decode mode: %w", err)
	}
	result.Transcript = []chat.Message{}
	if err := json.Unmarshal([]byte(transcript), &result.Transcript); err != nil {
		return roundmodel.Result{}, fmt.Errorf("decode transcript: %w", err)
	}
	result.Question.Topic = result.Topic
	result.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	result.ClosedAt = time.UnixMilli(closedAt).UTC()
	return result, nil
}
