package dist

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/splanck/viper-sub004/compiler/hash"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

var log = commonlog.GetLogger("bcvm.store")

// ErrNotFound indicates the requested module is not cached.
var ErrNotFound = errors.New("dist: module not cached")

const schema = `
CREATE TABLE IF NOT EXISTS modules (
	hash      TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	format    INTEGER NOT NULL,
	body      BLOB NOT NULL,
	manifest  BLOB NOT NULL,
	hits      INTEGER NOT NULL DEFAULT 0,
	created   INTEGER NOT NULL,
	last_used INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS modules_last_used ON modules(last_used);
`

// Store is a SQLite cache of compiled modules keyed by IL content hash.
// It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	hits, misses atomic.Int64
}

// Open opens or creates the cache database at path. ":memory:" opens a
// private in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	log.Debugf("opened module cache %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

func key(h hash.Digest) string { return h.String() }

// Get returns the cached module for h. A row that no longer decodes, for
// example one written by an older format version, is dropped and reported
// as a miss.
func (s *Store) Get(ctx context.Context, h hash.Digest) (*bc.Module, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM modules WHERE hash = ?", key(h)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying module: %w", err)
	}

	m, err := bc.Unmarshal(body)
	if err != nil {
		log.Warningf("dropping cached module %s: %s", h, err)
		if err := s.Delete(ctx, h); err != nil {
			return nil, false, err
		}
		s.misses.Add(1)
		return nil, false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE modules SET hits = hits + 1, last_used = ? WHERE hash = ?",
		s.now().UnixNano(), key(h),
	); err != nil {
		return nil, false, fmt.Errorf("updating module: %w", err)
	}
	s.hits.Add(1)
	return m, true, nil
}

// Put stores m under h, replacing any previous entry.
func (s *Store) Put(ctx context.Context, h hash.Digest, m *bc.Module) error {
	body, err := bc.Marshal(m)
	if err != nil {
		return err
	}
	man, err := MarshalManifest(ManifestOf(m))
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO modules (hash, name, format, body, manifest, hits, created, last_used)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		key(h), m.Name, m.Version, body, man, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving module: %w", err)
	}
	log.Debugf("cached %s as %s (%d bytes)", m.Name, h, len(body))
	return nil
}

// Manifest returns the manifest of the module cached under h.
func (s *Store) Manifest(ctx context.Context, h hash.Digest) (*Manifest, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT manifest FROM modules WHERE hash = ?", key(h)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	return UnmarshalManifest(data)
}

// Delete removes the entry for h. Deleting a missing entry is not an
// error.
func (s *Store) Delete(ctx context.Context, h hash.Digest) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM modules WHERE hash = ?", key(h)); err != nil {
		return fmt.Errorf("deleting module: %w", err)
	}
	return nil
}

// Entries lists cached modules, most recently used first.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash, manifest, length(body), hits, created, last_used FROM modules ORDER BY last_used DESC, hash")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			hexHash        string
			man            []byte
			e              Entry
			created, lastU int64
		)
		if err := rows.Scan(&hexHash, &man, &e.Size, &e.Hits, &created, &lastU); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		raw, err := hex.DecodeString(hexHash)
		if err != nil || len(raw) != len(e.Hash) {
			return nil, fmt.Errorf("dist: malformed hash %q in cache", hexHash)
		}
		copy(e.Hash[:], raw)
		if e.Manifest, err = UnmarshalManifest(man); err != nil {
			return nil, err
		}
		e.Created = time.Unix(0, created)
		e.LastUsed = time.Unix(0, lastU)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune keeps the keep most recently used entries and deletes the rest.
// It returns the number of entries removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM modules WHERE hash NOT IN (
			SELECT hash FROM modules ORDER BY last_used DESC, hash LIMIT ?
		)`, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("pruning modules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("pruned %d cached modules", n)
	}
	return int(n), nil
}

// Stats counts lookups since the store was opened.
type Stats struct {
	Hits   int64
	Misses int64
}

// Stats returns lookup counters.
func (s *Store) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}
