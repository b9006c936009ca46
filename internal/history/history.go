// Package history keeps the append-only log of completed transfers.
// Writes are best-effort: the relay records entries fire-and-forget and
// a failed write must never affect the transfer's own outcome.
package history

import (
	"database/sql"
	"time"
)

type Store struct {
	db *sql.DB
}

type Entry struct {
	ID        int64     `json:"id"`
	Owner     int64     `json:"owner"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	SourceURL string    `json:"source_url"`
	CreatedAt time.Time `json:"created_at"`
}

func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner INTEGER NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		source_url TEXT NOT NULL,
		created_time DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_owner ON transfers(owner);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record appends one completed transfer. Entries are never updated or
// deleted.
func (s *Store) Record(owner int64, filename string, size int64, sourceURL string) error {
	query := `INSERT INTO transfers (owner, filename, size, source_url, created_time) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, owner, filename, size, sourceURL, time.Now().UTC())
	return err
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	query := `SELECT id, owner, filename, size, source_url, created_time FROM transfers ORDER BY id DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Owner, &e.Filename, &e.Size, &e.SourceURL, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountForOwner reports how many transfers an owner has completed.
func (s *Store) CountForOwner(owner int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transfers WHERE owner = ?`, owner).Scan(&n)
	return n, err
}
