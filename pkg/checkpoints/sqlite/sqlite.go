// Package sqlite stores checkpoints in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"seq INTEGER NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_id TEXT, " +
		"step INTEGER NOT NULL, " +
		"source TEXT NOT NULL, " +
		"nodes_json TEXT NOT NULL, " +
		"next_json TEXT NOT NULL, " +
		"values_blob BLOB NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"PRIMARY KEY (thread_id, seq), " +
		"UNIQUE (thread_id, checkpoint_id)" +
		")"

	insertCheckpoint = "INSERT INTO checkpoints (" +
		"thread_id, seq, checkpoint_id, parent_id, step, source, nodes_json, next_json, values_blob, created_at" +
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	selectColumns = "SELECT thread_id, seq, checkpoint_id, parent_id, step, source, " +
		"nodes_json, next_json, values_blob, created_at FROM checkpoints "

	selectLatest = selectColumns + "WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"

	selectByID = selectColumns + "WHERE thread_id = ? AND checkpoint_id = ?"

	selectPage = selectColumns + "WHERE thread_id = ? AND seq < ? ORDER BY seq DESC LIMIT ?"

	selectMaxSeq = "SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE thread_id = ?"

	selectParentExists = "SELECT COUNT(1) FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?"
)

// Store is a checkpoints.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// Open opens (creating if needed) the database file at path. Use ":memory:" for a
// private in-memory database.
func Open(path string) (*Store, error) {
	// Immediate transactions take the write lock up front, so the head read by
	// Append cannot go stale before the insert, even across processes.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite database %s", path)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New creates the schema on db if missing. The caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, errors.Wrap(err, "create checkpoints table")
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, cp *checkpoints.Checkpoint) (*checkpoints.Checkpoint, error) {
	if cp == nil || cp.ThreadID == "" {
		return checkpoints.Prepare(cp, 0, false)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin append")
	}
	defer func() { _ = tx.Rollback() }()

	var latest int64
	if err := tx.QueryRowContext(ctx, selectMaxSeq, cp.ThreadID).Scan(&latest); err != nil {
		return nil, errors.Wrap(err, "read latest sequence")
	}

	parentFound := false
	if cp.ParentID != "" {
		var n int
		if err := tx.QueryRowContext(ctx, selectParentExists, cp.ThreadID, cp.ParentID).Scan(&n); err != nil {
			return nil, errors.Wrap(err, "look up parent")
		}
		parentFound = n > 0
	}

	stored, err := checkpoints.Prepare(cp, latest, parentFound)
	if err != nil {
		return nil, err
	}

	nodes, err := json.Marshal(nonNil(stored.Nodes))
	if err != nil {
		return nil, errors.Wrap(err, "encode nodes")
	}
	next, err := json.Marshal(nonNil(stored.Next))
	if err != nil {
		return nil, errors.Wrap(err, "encode next")
	}

	if stored.Values == nil {
		stored.Values = []byte{}
	}

	var parent sql.NullString
	if stored.ParentID != "" {
		parent = sql.NullString{String: stored.ParentID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, insertCheckpoint,
		stored.ThreadID, stored.Seq, stored.ID, parent, stored.Step, string(stored.Source),
		string(nodes), string(next), stored.Values, stored.CreatedAt.UnixNano(),
	); err != nil {
		if isConstraint(err) {
			return nil, errors.Wrapf(checkpoints.ErrConflict, "thread %s seq %d", stored.ThreadID, stored.Seq)
		}
		return nil, errors.Wrap(err, "insert checkpoint")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit append")
	}
	return stored.Clone(), nil
}

func (s *Store) Get(ctx context.Context, ref checkpoints.Ref) (*checkpoints.Checkpoint, error) {
	if ref.CheckpointID == "" {
		return s.Latest(ctx, ref.ThreadID)
	}
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, selectByID, ref.ThreadID, ref.CheckpointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoints.NotFound(ref)
	}
	return cp, err
}

func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoints.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, selectLatest, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoints.NotFound(checkpoints.Ref{ThreadID: threadID})
	}
	return cp, err
}

func (s *Store) List(
	ctx context.Context,
	threadID string,
	opts checkpoints.ListOptions,
) ([]*checkpoints.Checkpoint, error) {
	before := opts.Before
	if before <= 0 {
		before = 1<<63 - 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, selectPage, threadID, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	defer rows.Close()

	var out []*checkpoints.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate checkpoints")
	}
	return out, nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*checkpoints.Checkpoint, error) {
	var (
		cp        checkpoints.Checkpoint
		parent    sql.NullString
		source    string
		nodes     string
		next      string
		createdAt int64
	)
	if err := row.Scan(
		&cp.ThreadID, &cp.Seq, &cp.ID, &parent, &cp.Step, &source,
		&nodes, &next, &cp.Values, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan checkpoint")
	}

	if err := json.Unmarshal([]byte(nodes), &cp.Nodes); err != nil {
		return nil, errors.Wrap(err, "decode nodes")
	}
	if err := json.Unmarshal([]byte(next), &cp.Next); err != nil {
		return nil, errors.Wrap(err, "decode next")
	}
	cp.ParentID = parent.String
	cp.Source = checkpoints.Source(source)
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	if len(cp.Nodes) == 0 {
		cp.Nodes = nil
	}
	if len(cp.Next) == 0 {
		cp.Next = nil
	}
	return &cp, nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
