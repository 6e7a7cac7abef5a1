package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Auditor records session operations to SQL. A nil or closed Auditor drops
// records silently.
type Auditor struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Operation string    `json:"operation"`
	SessionID string    `json:"session_id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var schemas = map[string]string{
	"sqlite3": `CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		session_id TEXT NOT NULL,
		input TEXT,
		output TEXT,
		error TEXT,
		timestamp DATETIME NOT NULL
	)`,
	"postgres": `CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		operation TEXT NOT NULL,
		session_id TEXT NOT NULL,
		input TEXT,
		output TEXT,
		error TEXT,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
}

// Open connects to the audit database and creates the log table.
func Open(driver, dsn string, logger *slog.Logger) (*Auditor, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit DB: %w", err)
	}
	if driver == "sqlite3" {
		// one connection keeps ":memory:" databases shared and serializes writes
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS audit_log_session ON audit_log (session_id)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit index: %w", err)
	}

	return &Auditor{db: db, driver: driver, logger: logger, now: time.Now}, nil
}

// Record writes one operation. Input and output are stored as JSON.
func (a *Auditor) Record(operation, sessionID string, input, output any, err error) {
	if a == nil || a.db == nil {
		return
	}
	var errStr string
	if err != nil {
		errStr = err.Error()
	}
	_, execErr := a.db.Exec(
		a.rebind("INSERT INTO audit_log (operation, session_id, input, output, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)"),
		operation, sessionID, encode(input), encode(output), errStr, a.now().UTC(),
	)
	if execErr != nil {
		a.logger.Error("failed to write audit log", "operation", operation, "session_id", sessionID, "error", execErr)
	}
}

// GetLogs returns the newest entries first.
func (a *Auditor) GetLogs(limit int) ([]AuditEntry, error) {
	return a.query("", limit)
}

// SessionLogs returns the newest entries of one session first.
func (a *Auditor) SessionLogs(sessionID string, limit int) ([]AuditEntry, error) {
	return a.query(sessionID, limit)
}

func (a *Auditor) query(sessionID string, limit int) ([]AuditEntry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	q := "SELECT id, operation, session_id, input, output, error, timestamp FROM audit_log"
	args := []any{}
	if sessionID != "" {
		q += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.Query(a.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var input, output, errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &e.SessionID, &input, &output, &errStr, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Input, e.Output, e.Error = input.String, output.String, errStr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *Auditor) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// rebind turns ? placeholders into $n for postgres.
func (a *Auditor) rebind(q string) string {
	if a.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encode(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
