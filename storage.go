package mohnet

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const storageSQL = `CREATE TABLE IF NOT EXISTS storage (
	key VARCHAR(512) PRIMARY KEY NOT NULL,
	value VARCHAR(512) NOT NULL
);
CREATE TABLE IF NOT EXISTS servers (
	address VARCHAR(256) PRIMARY KEY NOT NULL,
	protocol INTEGER NOT NULL,
	last_seen INTEGER NOT NULL
);
`

const guidKey = "cl_guid"

// Storage persists client state between runs: arbitrary keys, the
// client GUID and the protocol version of every server seen
type Storage struct {
	db *DB
}

// OpenStorage opens or creates the storage database at path
func OpenStorage(path string) (*Storage, error) {
	db, err := OpenSQLite3(path, storageSQL)
	if err != nil {
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

// SetKey sets an entry, an empty value deletes it
func (s *Storage) SetKey(key, value string) error {
	if value == "" {
		_, err := s.db.Exec(`DELETE FROM storage WHERE key = ?;`, key)
		return err
	}

	_, err := s.db.Exec(`INSERT INTO storage (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value)
	return err
}

// Key returns an entry or the empty string if it is not set
func (s *Storage) Key(key string) (string, error) {
	var r string
	err := s.db.QueryRow(`SELECT value FROM storage WHERE key = ?;`, []interface{}{key}, &r)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return r, err
}

// GUID returns the client GUID, generating it on first use
func (s *Storage) GUID() (string, error) {
	guid, err := s.Key(guidKey)
	if err != nil || guid != "" {
		return guid, err
	}

	guid = NewGUID()
	if err := s.SetKey(guidKey, guid); err != nil {
		return "", err
	}
	return guid, nil
}

// NewGUID returns a random 32 digit hex GUID
func NewGUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ServerProtocol returns the cached protocol version of a server
func (s *Storage) ServerProtocol(addr string) (int, bool, error) {
	var protocol int
	err := s.db.QueryRow(`SELECT protocol FROM servers WHERE address = ?;`, []interface{}{addr}, &protocol)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}
	return protocol, true, nil
}

// SetServerProtocol caches the protocol version of a server
func (s *Storage) SetServerProtocol(addr string, protocol int, seen time.Time) error {
	_, err := s.db.Exec(`INSERT INTO servers (address, protocol, last_seen) VALUES (?, ?, ?)
	ON CONFLICT(address) DO UPDATE SET protocol = excluded.protocol, last_seen = excluded.last_seen;`,
		addr, protocol, seen.Unix())
	return err
}
