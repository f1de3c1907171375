package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestSourceRepo_Ensure(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSourceRepo(db)

	src := &model.Source{ID: "arxiv", Name: "arXiv", URL: "http://export.arxiv.org/oai2", Format: "oai_dc",
		LastUpdate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	mock.ExpectExec(`INSERT INTO sources \(id, name, url, format, last_update\) VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("arxiv", "arXiv", "http://export.arxiv.org/oai2", "oai_dc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Ensure(context.Background(), src))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSourceRepo(db)
	ctx := context.Background()
	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, name, url, format, last_update FROM sources WHERE id=\$1`).
		WithArgs("arxiv").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "url", "format", "last_update"}).
			AddRow("arxiv", "arXiv", "http://x", "oai_dc", ts))
	s, err := r.Get(ctx, "arxiv")
	require.NoError(t, err)
	require.Equal(t, "oai_dc", s.Format)
	require.True(t, ts.Equal(s.LastUpdate))

	mock.ExpectQuery(`SELECT id, name, url, format, last_update FROM sources WHERE id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSourceRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSourceRepo(db)
	ts := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, url, format, last_update FROM sources ORDER BY id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "url", "format", "last_update"}).
			AddRow("a", "A", "http://a", "oai_dc", ts).
			AddRow("b", "B", "http://b", "oai_dc", ts))

	out, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "b", out[1].ID)
}

func TestSourceRepo_AdvanceWatermark(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSourceRepo(db)
	ctx := context.Background()
	to := time.Date(2022, 1, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE sources SET last_update=\$2 WHERE id=\$1 AND last_update <= \$2`).
		WithArgs("arxiv", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.AdvanceWatermark(ctx, "arxiv", to))

	mock.ExpectExec(`UPDATE sources SET last_update=\$2 WHERE id=\$1 AND last_update <= \$2`).
		WithArgs("arxiv", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.AdvanceWatermark(ctx, "arxiv", to), errs.ErrWatermarkConflict)

	mock.ExpectExec(`UPDATE sources SET last_update`).
		WithArgs("arxiv", pgxmock.AnyArg()).
		WillReturnError(errors.New("conn reset"))
	require.Error(t, r.AdvanceWatermark(ctx, "arxiv", to))
}
