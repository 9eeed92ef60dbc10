package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/render"
)

// Store 把批次结果落到本地 SQLite，便于事后查询历史运行。
//
// 约束：统计数字不单独存储，ListRuns 每次从 outcomes 表聚合。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run 是一次已保存批次的概要。
type Run struct {
	ID        uuid.UUID
	Dir       string
	Pattern   string
	CreatedAt time.Time
	Summary   domain.BatchSummary
}

// OutcomeRow 是已保存的单文件结果（字段匹配按 field 展开）。
type OutcomeRow struct {
	Path         string
	Status       string
	ErrorKind    string
	ErrorMessage string
	Matches      []MatchRow
}

type MatchRow struct {
	Field      string
	Missing    bool
	Type       string
	Value      string
	Raw        string
	Confidence string
	Start, End int
}

// Open 打开（必要时创建）数据库并初始化表结构。
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败：%w", err)
	}
	// 单进程 CLI，写入天然串行。
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接数据库失败：%w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化表结构失败：%w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		dir TEXT NOT NULL,
		pattern TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT,
		error_message TEXT,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS matches (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		field TEXT NOT NULL,
		missing INTEGER NOT NULL,
		type TEXT,
		value TEXT,
		raw TEXT,
		confidence TEXT,
		start_pos INTEGER,
		end_pos INTEGER,
		PRIMARY KEY (run_id, seq, idx),
		FOREIGN KEY (run_id, seq) REFERENCES outcomes(run_id, seq) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_matches_field ON matches(field);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBatch 在一个事务里写入整个批次，返回新的 run id。
func (s *Store) SaveBatch(ctx context.Context, res domain.BatchResult) (id uuid.UUID, err error) {
	id = uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, dir, pattern, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), res.Dir, res.Pattern, s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return uuid.Nil, fmt.Errorf("写入 runs 失败：%w", err)
	}

	outStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, seq, path, status, error_kind, error_message) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer outStmt.Close()

	matchStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO matches (run_id, seq, idx, field, missing, type, value, raw, confidence, start_pos, end_pos)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer matchStmt.Close()

	for seq, o := range res.Outcomes {
		status, fe := outcomeStatus(o)
		var kind, msg sql.NullString
		if fe != nil {
			kind = sql.NullString{String: fe.Kind, Valid: true}
			msg = sql.NullString{String: fe.Message, Valid: true}
		}
		if _, err = outStmt.ExecContext(ctx, id.String(), seq, o.Path, status, kind, msg); err != nil {
			return uuid.Nil, fmt.Errorf("写入 outcome %q 失败：%w", o.Path, err)
		}
		if o.Record == nil {
			continue
		}

		idx := 0
		for _, f := range o.Record.Fields {
			if f.Missing {
				if _, err = matchStmt.ExecContext(ctx, id.String(), seq, idx, f.Name, 1, nil, nil, nil, nil, nil, nil); err != nil {
					return uuid.Nil, err
				}
				idx++
				continue
			}
			for _, m := range f.Matches {
				if _, err = matchStmt.ExecContext(ctx, id.String(), seq, idx, f.Name, 0,
					string(m.Type), render.ValueText(m.Value), m.Raw, string(m.Confidence), m.Span.Start, m.Span.End,
				); err != nil {
					return uuid.Nil, err
				}
				idx++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func outcomeStatus(o domain.Outcome) (string, *domain.FileError) {
	if o.Err != nil {
		return string(domain.StatusFailed), o.Err
	}
	if o.Record == nil {
		return string(domain.StatusFailed), nil
	}
	return string(o.Record.Status), o.Record.Error
}

// ListRuns 按保存时间倒序列出所有批次。
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.dir, r.pattern, r.created_at,
			COUNT(o.seq),
			COALESCE(SUM(CASE WHEN o.status = 'COMPLETE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN o.status = 'PARTIAL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN o.status = 'FAILED' THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN outcomes o ON o.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r      Run
			id, ts string
		)
		if err := rows.Scan(&id, &r.Dir, &r.Pattern, &ts,
			&r.Summary.Total, &r.Summary.Succeeded, &r.Summary.Partial, &r.Summary.Failed); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("runs.id 损坏：%w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("runs.created_at 损坏：%w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ErrRunNotFound 表示 run id 不存在。
var ErrRunNotFound = errors.New("run 不存在")

// RunOutcomes 按发现顺序读回某次批次的全部结果。
func (s *Store) RunOutcomes(ctx context.Context, id uuid.UUID) ([]OutcomeRow, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, id.String()).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.seq, o.path, o.status, COALESCE(o.error_kind, ''), COALESCE(o.error_message, ''),
			m.field, m.missing, COALESCE(m.type, ''), COALESCE(m.value, ''), COALESCE(m.raw, ''),
			COALESCE(m.confidence, ''), COALESCE(m.start_pos, 0), COALESCE(m.end_pos, 0)
		FROM outcomes o
		LEFT JOIN matches m ON m.run_id = o.run_id AND m.seq = o.seq
		WHERE o.run_id = ?
		ORDER BY o.seq, m.idx`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []OutcomeRow
		lastSeq = -1
	)
	for rows.Next() {
		var (
			seq     int
			o       OutcomeRow
			field   sql.NullString
			missing sql.NullInt64
			m       MatchRow
		)
		if err := rows.Scan(&seq, &o.Path, &o.Status, &o.ErrorKind, &o.ErrorMessage,
			&field, &missing, &m.Type, &m.Value, &m.Raw, &m.Confidence, &m.Start, &m.End); err != nil {
			return nil, err
		}
		if seq != lastSeq {
			out = append(out, o)
			lastSeq = seq
		}
		if field.Valid {
			m.Field = field.String
			m.Missing = missing.Int64 == 1
			cur := &out[len(out)-1]
			cur.Matches = append(cur.Matches, m)
		}
	}
	return out, rows.Err()
}
