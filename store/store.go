// Package store caches compiled program images in SQLite, keyed by the
// content hash of the AST document they were translated from.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/mathvm/pkg/bytecode"
)

var log = commonlog.GetLogger("mvm.store")

// Hash identifies an AST document by content.
type Hash [sha256.Size]byte

// Key hashes the bytes of an AST document.
func Key(source []byte) Hash {
	return sha256.Sum256(source)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits, for listings.
func (h Hash) Short() string {
	return h.String()[:12]
}

// ParseHash decodes the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// Entry describes one cached image.
type Entry struct {
	ID      string
	Hash    Hash
	Size    int64
	Created time.Time
}

// Store is a cache database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		image BLOB NOT NULL,
		size INTEGER NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores prog under key, replacing any earlier image.
func (s *Store) Put(ctx context.Context, key Hash, prog *bytecode.Program) (Entry, error) {
	data, err := bytecode.MarshalImage(prog)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{ID: uuid.NewString(), Hash: key, Size: int64(len(data)), Created: time.Now()}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (hash, id, image, size, created) VALUES (?, ?, ?, ?, ?)",
		key.String(), e.ID, data, e.Size, e.Created.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("saving image: %w", err)
	}
	log.Debugf("stored %s as %s (%d bytes)", key.Short(), e.ID, e.Size)
	return e, nil
}

// Get returns the program cached under key. A miss is (nil, false, nil).
func (s *Store) Get(ctx context.Context, key Hash) (*bytecode.Program, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM images WHERE hash = ?", key.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("miss %s", key.Short())
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying image: %w", err)
	}
	prog, err := bytecode.UnmarshalImage(data)
	if err != nil {
		return nil, false, fmt.Errorf("cached image %s: %w", key.Short(), err)
	}
	log.Debugf("hit %s", key.Short())
	return prog, true, nil
}

// Delete removes the image cached under key. Deleting a missing key is
// not an error.
func (s *Store) Delete(ctx context.Context, key Hash) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE hash = ?", key.String()); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// Clear removes every image and returns how many there were.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM images")
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	return res.RowsAffected()
}

// List returns all entries, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash, id, size, created FROM images ORDER BY created DESC, hash")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			hash    string
			e       Entry
			created int64
		)
		if err := rows.Scan(&hash, &e.ID, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		if e.Hash, err = ParseHash(hash); err != nil {
			return nil, err
		}
		e.Created = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
