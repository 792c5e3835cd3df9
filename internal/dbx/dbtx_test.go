package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupDB opens a private in-memory database with the pending blob schema.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, "."))
	return db
}

func insertBlob(ctx context.Context, db DBTX, id string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO pending_blobs (id, data, mime_type, original_name, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, []byte("jpeg"), "image/jpeg", id+".jpg", []byte{0x01}, time.Now().UnixNano())
	return err
}

func countBlobs(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pending_blobs`).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insertBlob(ctx, tx, "b1"); err != nil {
			return err
		}
		return insertBlob(ctx, tx, "b2")
	})
	require.NoError(t, err)
	require.Equal(t, 2, countBlobs(t, db))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertBlob(ctx, tx, "b1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, countBlobs(t, db))
}

func TestWithTx_RollbackOnStatementError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, insertBlob(context.Background(), db, "b0"))

	// the second insert hits the primary key and undoes the first one
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insertBlob(ctx, tx, "b1"); err != nil {
			return err
		}
		return insertBlob(ctx, tx, "b0")
	})
	require.Error(t, err)
	require.Equal(t, 1, countBlobs(t, db))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		r := recover()
		require.Equal(t, "kaput", r)
		require.Equal(t, 0, countBlobs(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertBlob(ctx, tx, "b1"))
		panic("kaput")
	})
}

func TestWithTx_ReadsOwnWrites(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertBlob(ctx, tx, "b1"))
		var mime string
		if err := tx.QueryRowContext(ctx, `SELECT mime_type FROM pending_blobs WHERE id = ?`, "b1").Scan(&mime); err != nil {
			return err
		}
		require.Equal(t, "image/jpeg", mime)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
}

type brokenResult struct{}

func (brokenResult) LastInsertId() (int64, error) { return 0, nil }
func (brokenResult) RowsAffected() (int64, error) { return 0, errors.New("driver gone") }

func TestRowsAffected(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, insertBlob(ctx, db, "b1"))

	res, err := db.ExecContext(ctx, `DELETE FROM pending_blobs WHERE id = ?`, "b1")
	require.NoError(t, err)
	n, err := RowsAffected(res)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	res, err = db.ExecContext(ctx, `DELETE FROM pending_blobs WHERE id = ?`, "b1")
	require.NoError(t, err)
	_, err = RowsAffected(res)
	require.ErrorIs(t, err, ErrNoRowsAffected)

	_, err = RowsAffected(brokenResult{})
	require.ErrorContains(t, err, "driver gone")
	require.NotErrorIs(t, err, ErrNoRowsAffected)
}
