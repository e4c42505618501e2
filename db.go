package mohnet

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeoutMsec lets a second client sharing the storage file wait
// for the lock instead of failing
const busyTimeoutMsec = 5000

// A DB is a sqlite3 database with its schema applied
type DB struct {
	*sql.DB
}

// OpenSQLite3 opens the database at path, creating its directory, and
// runs schema on it
func OpenSQLite3(path, schema string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout="+strconv.Itoa(busyTimeoutMsec))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

// QueryRow runs a single row query and scans it into results,
// sql.ErrNoRows is returned unchanged
func (db *DB) QueryRow(query string, args []interface{}, results ...interface{}) error {
	return db.DB.QueryRow(query, args...).Scan(results...)
}
