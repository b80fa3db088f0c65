package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// Store provides SQLite-backed dispatch history
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New creates a new Store with the given database path
func New(dbPath string, log zerolog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "history").Logger()}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a dispatch or updates it when it finishes
func (s *Store) Record(d domain.Dispatch) error {
	var finished sql.NullTime
	if d.FinishedAt != nil {
		finished = sql.NullTime{Time: *d.FinishedAt, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO dispatches (id, issue_key, column_name, operation, status, status_code, response, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			status_code = excluded.status_code,
			response = excluded.response,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		d.ID,
		d.IssueKey,
		string(d.Column),
		string(d.Operation),
		string(d.Status),
		d.StatusCode,
		d.Response,
		d.Error,
		d.StartedAt,
		finished,
	)
	return err
}

// OnDispatch records d, logging rather than returning failures
func (s *Store) OnDispatch(d domain.Dispatch) {
	if err := s.Record(d); err != nil {
		s.log.Error().Err(err).Str("attempt", d.ID).Msg("recording dispatch")
	}
}

// Get retrieves a dispatch by ID
func (s *Store) Get(id string) (*domain.Dispatch, error) {
	rows, err := s.db.Query(selectDispatches+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanDispatch(rows)
}

// ListOptions specifies filters for listing dispatches
type ListOptions struct {
	IssueKey string
	Status   domain.DispatchStatus
	Limit    int
}

// List returns dispatches matching the given options, newest first
func (s *Store) List(opts ListOptions) ([]domain.Dispatch, error) {
	query := selectDispatches + ` WHERE 1=1`
	var args []interface{}

	if opts.IssueKey != "" {
		query += " AND issue_key = ?"
		args = append(args, opts.IssueKey)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Counts tallies dispatches by status
type Counts struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Total returns the number of recorded dispatches
func (c Counts) Total() int {
	return c.Started + c.Succeeded + c.Failed
}

// Counts returns the number of dispatches per status
func (s *Store) Counts() (Counts, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM dispatches GROUP BY status`)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch domain.DispatchStatus(status) {
		case domain.DispatchStarted:
			c.Started = n
		case domain.DispatchSucceeded:
			c.Succeeded = n
		case domain.DispatchFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

const selectDispatches = `SELECT id, issue_key, column_name, operation, status, status_code, response, error, started_at, finished_at FROM dispatches`

func scanDispatch(rows *sql.Rows) (*domain.Dispatch, error) {
	var d domain.Dispatch
	var column, operation, status string
	var statusCode sql.NullInt64
	var response, errText sql.NullString
	var finished sql.NullTime

	err := rows.Scan(&d.ID, &d.IssueKey, &column, &operation, &status, &statusCode, &response, &errText, &d.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	d.Column = domain.Column(column)
	d.Operation = domain.Operation(operation)
	d.Status = domain.DispatchStatus(status)
	d.StatusCode = int(statusCode.Int64)
	d.Response = response.String
	d.Error = errText.String
	if finished.Valid {
		t := finished.Time
		d.FinishedAt = &t
	}
	return &d, nil
}
