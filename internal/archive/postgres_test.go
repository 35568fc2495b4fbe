package archive

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/nfse-downloader/internal/download"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	execs   []execCall
	execErr error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return driverResult(1), nil
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported by fakeDB")
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func finishedSnapshot() download.Snapshot {
	created := time.Date(2025, 8, 2, 10, 0, 0, 0, time.UTC)
	finished := created.Add(time.Minute)
	return download.Snapshot{
		ID:         "6f1c0b7e-0000-4000-8000-000000000001",
		TaxpayerID: "52399222000122",
		From:       time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Status:     download.StateCompleted,
		Progress: download.Progress{
			CurrentPage: 2, TotalPages: 2, Written: 4, Conflicted: 1,
		},
		Conflicts:  []download.Conflict{{Path: "2025/072025/52399222000122/NFSe_2.xml", Existing: "aa", Incoming: "bb"}},
		CreatedAt:  created,
		FinishedAt: &finished,
	}
}

func TestPostgresStore_Save(t *testing.T) {
	db := &fakeDB{}
	store := NewPostgresStore(db)

	require.NoError(t, store.Save(context.Background(), finishedSnapshot()))
	require.Len(t, db.execs, 1)

	call := db.execs[0]
	assert.True(t, strings.HasPrefix(call.query, "INSERT INTO nfse_jobs (id,taxpayer_id,"))
	assert.Contains(t, call.query, "$18")
	assert.Contains(t, call.query, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, call.args, len(columns))

	assert.Equal(t, "6f1c0b7e-0000-4000-8000-000000000001", call.args[0])
	assert.Equal(t, "completed", call.args[4])
	assert.Equal(t, 4, call.args[7])
	assert.Equal(t, pq.StringArray{}, call.args[13])
	assert.JSONEq(t, `[{"path":"2025/072025/52399222000122/NFSe_2.xml","existing":"aa","incoming":"bb"}]`, call.args[14].(string))
	assert.Equal(t, sql.NullTime{}, call.args[16])
	assert.True(t, call.args[17].(sql.NullTime).Valid)
}

func TestPostgresStore_SaveError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}
	store := NewPostgresStore(db)

	err := store.Save(context.Background(), finishedSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewPostgresStore(db).EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Equal(t, Schema, db.execs[0].query)
}

func TestPostgresStore_ListQuery(t *testing.T) {
	store := NewPostgresStore(&fakeDB{})

	query, args, err := store.listQuery("52.399.222/0001-22", 10)
	require.NoError(t, err)
	assert.Contains(t, query, "FROM nfse_jobs WHERE taxpayer_id = $1")
	assert.Contains(t, query, "ORDER BY created_at DESC, id LIMIT 10")
	assert.Equal(t, []any{"52399222000122"}, args)

	query, args, err = store.listQuery("", 0)
	require.NoError(t, err)
	assert.NotContains(t, query, "WHERE")
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)
}

func TestPostgresStore_ListError(t *testing.T) {
	_, err := NewPostgresStore(&fakeDB{}).List(context.Background(), "52399222000122", 5)
	assert.Error(t, err)
}
