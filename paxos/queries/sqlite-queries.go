package queries

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // blank import, only the driver registration is needed.
)

const sqlDriver = "sqlite3"

// sqliteRecorder writes the history trail to a local sqlite file.
type sqliteRecorder struct {
	db *sql.DB
}

func newSqliteRecorder(path string) (*sqliteRecorder, error) {
	if path == "" {
		path = "history.db"
	}
	db, err := sql.Open(sqlDriver, path)
	if err != nil {
		return nil, fmt.Errorf("queries: opening %s: %v", path, err)
	}

	_, err = db.Exec(`BEGIN TRANSACTION;
	CREATE TABLE IF NOT EXISTS "rounds" (
		"trace_id"	TEXT,
		"member"	TEXT,
		"n"	INTEGER,
		"phase"	TEXT,
		"value"	TEXT,
		"at"	INTEGER,
		PRIMARY KEY("trace_id")
	);
	CREATE TABLE IF NOT EXISTS "decisions" (
		"member"	TEXT,
		"value"	TEXT,
		"at"	INTEGER,
		PRIMARY KEY("member")
	);
	COMMIT;`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queries: initializing %s: %v", path, err)
	}
	return &sqliteRecorder{db: db}, nil
}

func (r *sqliteRecorder) RecordRound(member string, n int64, phase string, v string) {
	_, err := r.db.Exec(
		"INSERT INTO rounds VALUES(?, ?, ?, ?, ?, ?)",
		uuid.NewString(), member, n, phase, v, time.Now().UnixMilli(),
	)
	logErr("recording round", err)
}

func (r *sqliteRecorder) RecordDecision(member string, v string) {
	// The first decision wins; a member's decision never changes, so a
	// conflicting insert is left untouched.
	_, err := r.db.Exec(
		"INSERT INTO decisions VALUES(?, ?, ?) ON CONFLICT (member) DO NOTHING",
		member, v, time.Now().UnixMilli(),
	)
	logErr("recording decision", err)
}

// Decision returns the recorded decision of a member, if any.
func (r *sqliteRecorder) Decision(member string) (string, bool) {
	row := r.db.QueryRow("SELECT value FROM decisions WHERE member = ?", member)
	var v sql.NullString
	if err := row.Scan(&v); err != nil {
		return "", false
	}
	return v.String, v.Valid
}

// RoundCount returns how many round transitions a member has recorded.
func (r *sqliteRecorder) RoundCount(member string) int {
	row := r.db.QueryRow("SELECT COUNT(*) FROM rounds WHERE member = ?", member)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0
	}
	return count
}

func (r *sqliteRecorder) Close() error {
	return r.db.Close()
}
