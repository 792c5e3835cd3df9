package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore/migrations"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/dbx"
	"github.com/dmitrijs2005/pantrysync/internal/shared"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/blake2b"

	_ "modernc.org/sqlite"
)

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (or creates) the blob database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate blob store: %w", err)
	}
	return db, nil
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func checksum(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func (s *SQLiteStore) Save(ctx context.Context, data []byte, mimeType, originalName string) (models.PendingBlob, error) {
	if len(data) == 0 {
		return models.PendingBlob{}, ErrBlobEmpty
	}
	if len(data) > MaxBlobSize {
		return models.PendingBlob{}, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(data))
	}

	id, err := shared.NewOpaqueID()
	if err != nil {
		return models.PendingBlob{}, fmt.Errorf("failed to generate blob id: %w", err)
	}

	b := models.PendingBlob{
		ID:           id,
		Data:         data,
		MimeType:     mimeType,
		OriginalName: originalName,
		Checksum:     checksum(data),
		CreatedAt:    s.now().UTC(),
	}

	query := `INSERT INTO pending_blobs (id, data, mime_type, original_name, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, b.ID, b.Data, b.MimeType, b.OriginalName, b.Checksum, b.CreatedAt.UnixNano())
	if err != nil {
		return models.PendingBlob{}, fmt.Errorf("failed to insert blob: %w", err)
	}

	return b, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.PendingBlob, error) {
	query := `SELECT id, data, mime_type, original_name, checksum, created_at FROM pending_blobs WHERE id = ?`

	var (
		b       models.PendingBlob
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Data, &b.MimeType, &b.OriginalName, &b.Checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingBlob{}, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	if err != nil {
		return models.PendingBlob{}, fmt.Errorf("failed to select blob: %w", err)
	}
	b.CreatedAt = time.Unix(0, created).UTC()

	if !bytes.Equal(checksum(b.Data), b.Checksum) {
		return models.PendingBlob{}, fmt.Errorf("%w: %s", ErrBlobCorrupt, id)
	}

	return b, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := deleteBlob(ctx, s.db, id)
	return err
}

func deleteBlob(ctx context.Context, db dbx.DBTX, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM pending_blobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}
	_, err = dbx.RowsAffected(res)
	if errors.Is(err, dbx.ErrNoRowsAffected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	removed := 0
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range ids {
			ok, err := deleteBlob(ctx, tx, id)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]BlobInfo, error) {
	query := `SELECT id, length(data), mime_type, original_name, created_at FROM pending_blobs ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error selecting blobs: %w", err)
	}
	defer rows.Close()

	var result []BlobInfo

	for rows.Next() {
		var (
			item    BlobInfo
			created int64
		)
		if err := rows.Scan(&item.ID, &item.Size, &item.MimeType, &item.OriginalName, &created); err != nil {
			return nil, err
		}
		item.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
