package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestStore_AppendOpReturnsSeq(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO canvas_ops").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	seq, err := s.AppendOp(context.Background(), storage.OpRecord{
		ProjectID:  "p1",
		Type:       "create",
		Data:       json.RawMessage(`{"element":{"id":"a"}}`),
		ElementIDs: []string{"a"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_OpsAfterScansNullableColumns(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"seq", "project_id", "op_type", "data", "inverse", "element_ids", "element_id", "actor_id", "created_at",
	}).
		AddRow(int64(1), "p1", "create", `{"element":{"id":"a"}}`, nil, "{}", "", "user-1", now).
		AddRow(int64(2), "p1", "delete", nil, `{"type":"create"}`, "{a,b}", "", "", now)

	mock.ExpectQuery("SELECT seq, project_id, op_type").
		WithArgs("p1", int64(-1)).
		WillReturnRows(rows)

	ops, err := s.OpsAfter(context.Background(), "p1", storage.NoSnapshotIndex)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	require.Equal(t, json.RawMessage(`{"element":{"id":"a"}}`), ops[0].Data)
	require.Nil(t, ops[0].Inverse)
	require.Empty(t, ops[0].ElementIDs)

	require.Nil(t, ops[1].Data)
	require.Equal(t, json.RawMessage(`{"type":"create"}`), ops[1].Inverse)
	require.Equal(t, []string{"a", "b"}, ops[1].ElementIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountOpsAfter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("p1", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := s.CountOpsAfter(context.Background(), "p1", 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestStore_UpsertElementRejectsMissingID(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.UpsertElement(context.Background(), "p1", canvas.Element{"x": 1})
	require.Error(t, err)
}

func TestStore_BatchUpsertRunsInTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO canvas_elements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO canvas_elements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.BatchUpsertElements(context.Background(), "p1", []canvas.Element{
		{"id": "a"},
		{"id": ""}, // skipped, no statement expected
		{"id": "b"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestSnapshotNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM canvas_snapshots").
		WithArgs("p1").
		WillReturnError(sql.ErrNoRows)

	_, err := s.LatestSnapshot(context.Background(), "p1")
	require.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func TestStore_SaveSnapshotUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO canvas_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveSnapshot(context.Background(), storage.Snapshot{
		ProjectID:       "p1",
		Elements:        json.RawMessage(`{"overlays":{},"media":{}}`),
		SnapshotOpIndex: 12,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
