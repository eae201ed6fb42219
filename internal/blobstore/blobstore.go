// Package blobstore implements the two-tier event store: append-only
// compressed batch files on disk, indexed by a small relational table.
package blobstore

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

//go:embed schema/0001_init.up.sql
var schemaFS embed.FS

const eventsSubdir = "events"

// BatchRow is one row of the event_batches index.
type BatchRow struct {
	ID             int64  `db:"id"`
	BatchID        string `db:"batch_id"`
	FilePath       string `db:"file_path"`
	EventCount     int    `db:"event_count"`
	CompressedSize int    `db:"compressed_size"`
	CreatedAt      int64  `db:"created_at"`
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalBatches int
	TotalBytes   int64
}

// Store is the append-only blob store plus its metadata index.
type Store struct {
	baseDir string
	logger  *logging.Logger

	mu     sync.Mutex // serializes the relational connection, per the concurrency model
	db     *sqlx.DB
	nextID int64
}

// Open opens or creates the blob store rooted at baseDir, running the
// embedded schema migration and reconciling the events/ directory against
// the index (orphan files are logged and ignored, matching write_batch's
// documented crash-recovery rule).
func Open(baseDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, eventsSubdir), 0o755); err != nil {
		return nil, simerrors.StorageFailed("failed to create events directory", err)
	}

	dbPath := filepath.Join(baseDir, "events.db")
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, simerrors.StorageFailed("failed to open index database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, simerrors.StorageFailed("failed to migrate index schema", err)
	}

	s := &Store{baseDir: baseDir, logger: logger, db: db}

	maxID, err := s.reconcile()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.nextID = maxID + 1

	return s, nil
}

// migrateSchema applies the single embedded schema migration. The index
// has exactly one table and never grows another migration in this spec's
// scope, so a plain idempotent exec takes the place of a migration runner
// (see DESIGN.md for why golang-migrate's sqlite driver was not used here).
func migrateSchema(db *sqlx.DB) error {
	up, err := schemaFS.ReadFile("schema/0001_init.up.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(string(up))
	return err
}

// reconcile walks the events directory, logging and ignoring any file with
// no matching index row, and returns the highest batch id found in the index.
func (s *Store) reconcile() (int64, error) {
	rows := []BatchRow{}
	if err := s.db.Select(&rows, `SELECT id, batch_id, file_path, event_count, compressed_size, created_at FROM event_batches`); err != nil {
		return 0, simerrors.StorageFailed("failed to read index for reconciliation", err)
	}

	known := make(map[string]struct{}, len(rows))
	var maxID int64
	for _, r := range rows {
		known[filepath.Base(r.FilePath)] = struct{}{}
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.baseDir, eventsSubdir))
	if err != nil {
		return 0, simerrors.StorageFailed("failed to list events directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := known[entry.Name()]; !ok {
			s.logger.Warn(context.Background(), "ignoring orphan batch file with no index row", map[string]interface{}{
				"file": entry.Name(),
			})
		}
	}

	return maxID, nil
}

func batchFileName(id int64) string {
	return fmt.Sprintf("batch_%08d.zst", id)
}

// WriteBatch allocates the next batch id, writes its file, syncs it, and
// only then inserts the index row — the durability order the invariant
// I3/I2 depend on.
func (s *Store) WriteBatch(data []byte, eventCount int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	batchID := fmt.Sprintf("batch_%08d", id)
	fileName := batchFileName(id)
	fullPath := filepath.Join(s.baseDir, eventsSubdir, fileName)

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", simerrors.StorageFailed("failed to create batch file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", simerrors.StorageFailed("failed to write batch file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", simerrors.StorageFailed("failed to sync batch file", err)
	}
	if err := f.Close(); err != nil {
		return "", simerrors.StorageFailed("failed to close batch file", err)
	}

	relPath := filepath.Join(eventsSubdir, fileName)
	_, err = s.db.Exec(
		`INSERT INTO event_batches (id, batch_id, file_path, event_count, compressed_size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, batchID, relPath, eventCount, len(data), time.Now().Unix(),
	)
	if err != nil {
		return "", simerrors.StorageFailed("failed to insert index row", err)
	}

	s.nextID++
	return batchID, nil
}

// ReadBatch reads the compressed payload for a previously written batch id.
func (s *Store) ReadBatch(batchID string) ([]byte, error) {
	var row BatchRow
	if err := s.db.Get(&row, `SELECT id, batch_id, file_path, event_count, compressed_size, created_at FROM event_batches WHERE batch_id = ?`, batchID); err != nil {
		return nil, simerrors.StorageFailed(fmt.Sprintf("batch %s not found", batchID), err)
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, row.FilePath))
	if err != nil {
		return nil, simerrors.StorageFailed("failed to read batch file", err)
	}
	if len(data) != row.CompressedSize {
		return nil, simerrors.StorageFailed(
			fmt.Sprintf("batch %s size mismatch: index says %d, file has %d", batchID, row.CompressedSize, len(data)), nil)
	}
	return data, nil
}

// ListBatches returns every indexed batch ordered by id ascending.
func (s *Store) ListBatches() ([]BatchRow, error) {
	rows := []BatchRow{}
	if err := s.db.Select(&rows, `SELECT id, batch_id, file_path, event_count, compressed_size, created_at FROM event_batches ORDER BY id ASC`); err != nil {
		return nil, simerrors.StorageFailed("failed to list batches", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// Stats reports the total batch count and total bytes stored.
func (s *Store) Stats() (Stats, error) {
	rows, err := s.ListBatches()
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, r := range rows {
		total += int64(r.CompressedSize)
	}
	return Stats{TotalBatches: len(rows), TotalBytes: total}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ParseBatchSeq extracts the numeric sequence from a "batch_NNNNNNNN" id.
func ParseBatchSeq(batchID string) (int64, error) {
	const prefix = "batch_"
	if len(batchID) <= len(prefix) {
		return 0, fmt.Errorf("malformed batch id %q", batchID)
	}
	return strconv.ParseInt(batchID[len(prefix):], 10, 64)
}
