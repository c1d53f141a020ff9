package cache

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a Provider backed by a single SQLite database file.
// Eviction times are stored as unix seconds; zero means no eviction.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If the file name is empty, an in-memory db is opened.
func NewSQLiteCache(filename string) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, bytes BLOB)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteCache) Get(key string) ([]byte, bool, error) {
	var expires int64
	var bytes []byte
	err := s.db.QueryRow("SELECT expires, bytes FROM cache WHERE key = ?", key).Scan(&expires, &bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expired(fromUnix(expires), time.Now()) {
		return nil, false, nil
	}
	return bytes, true, nil
}

func (s SQLiteCache) All(prefix string) ([]Entry, error) {
	entries := make([]Entry, 0)
	rows, err := s.db.Query(
		`SELECT key, expires, bytes FROM cache WHERE key LIKE ? ESCAPE '\'`,
		likePattern(prefix))
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	now := time.Now()
	for rows.Next() {
		var entry Entry
		var exp int64
		if err := rows.Scan(&entry.Key, &exp, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.Expires = fromUnix(exp)
		if expired(entry.Expires, now) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Put(key string, expires time.Time, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (key, expires, bytes) VALUES (?, ?, ?)",
		key, toUnix(expires), bytes)
	return err
}

func (s SQLiteCache) Purge(prefix string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`DELETE FROM cache WHERE key LIKE ? ESCAPE '\'`, likePattern(prefix))
	return err
}

// likePattern turns a key prefix into a LIKE pattern. Keys contain
// request URIs, so the LIKE wildcards need escaping.
func likePattern(prefix string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return escaper.Replace(prefix) + "%"
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}
