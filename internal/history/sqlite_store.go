package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jo-hoe/medisnap/internal/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	status TEXT NOT NULL,
	raw_response TEXT,
	error_code TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
`

// row mirrors the analyses table.
type row struct {
	ID          string         `db:"id"`
	Filename    string         `db:"filename"`
	StoredPath  string         `db:"stored_path"`
	MimeType    string         `db:"mime_type"`
	Status      string         `db:"status"`
	RawResponse sql.NullString `db:"raw_response"`
	ErrorCode   sql.NullString `db:"error_code"`
	CreatedAt   string         `db:"created_at"`
	CompletedAt sql.NullString `db:"completed_at"`
	DurationMS  int64          `db:"duration_ms"`
}

// SQLiteStore keeps analyses in a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create inserts a pending analysis, assigning an id and creation time when unset.
func (s *SQLiteStore) Create(a *Analysis) error {
	if a == nil {
		return errors.New("analysis is nil")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	_, err := s.db.NamedExec(
		`INSERT INTO analyses (id, filename, stored_path, mime_type, status, created_at)
		 VALUES (:id, :filename, :stored_path, :mime_type, :status, :created_at)`,
		row{
			ID:         a.ID,
			Filename:   a.Filename,
			StoredPath: a.StoredPath,
			MimeType:   a.MimeType,
			Status:     string(a.Status),
			CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// Complete records the outcome of an analysis.
func (s *SQLiteStore) Complete(id string, out Outcome) error {
	res, err := s.db.Exec(`UPDATE analyses
		SET status = ?, raw_response = ?, error_code = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(out.Status), nullString(out.RawResponse), nullString(out.ErrorCode),
		out.CompletedAt.UTC().Format(time.RFC3339Nano), out.Duration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the analysis with the given id or ErrNotFound.
func (s *SQLiteStore) Get(id string) (*Analysis, error) {
	var r row
	err := s.db.Get(&r, `SELECT id, filename, stored_path, mime_type, status, raw_response,
		error_code, created_at, completed_at, duration_ms
		FROM analyses WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}

	a := &Analysis{
		ID:          r.ID,
		Filename:    r.Filename,
		StoredPath:  r.StoredPath,
		MimeType:    r.MimeType,
		Status:      Status(r.Status),
		RawResponse: r.RawResponse.String,
		ErrorCode:   r.ErrorCode.String,
		DurationMS:  r.DurationMS,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		a.CreatedAt = t
	}
	if r.CompletedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, r.CompletedAt.String); err == nil {
			a.CompletedAt = &t
		}
	}
	return a, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
