package similarity

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/db/dbtest"
	"github.com/kailas-cloud/imgdex/internal/db/sqlite"
	"github.com/kailas-cloud/imgdex/internal/dialect"
)

// mockStore records SQL and fails or answers through func fields.
type mockStore struct {
	dialect  dialect.Dialect
	queryFn  func(ctx context.Context, q string, args ...any) (db.Rows, error)
	lastSQL  string
	lastArgs []any
}

func (m *mockStore) Exec(_ context.Context, _ string, _ ...any) (int64, error) {
	return 0, errors.New("exec not supported")
}

func (m *mockStore) Query(ctx context.Context, q string, args ...any) (db.Rows, error) {
	m.lastSQL, m.lastArgs = q, args
	if m.queryFn != nil {
		return m.queryFn(ctx, q, args...)
	}
	return nil, errors.New("connection refused")
}

func (m *mockStore) QueryRow(_ context.Context, _ string, _ ...any) db.Row {
	return errRow{errors.New("connection refused")}
}

func (m *mockStore) WithTx(_ context.Context, _ func(tx db.Tx) error) error {
	return errors.New("begin failed")
}

func (m *mockStore) VectorArg(v []float32) any { return v }

func (m *mockStore) VectorDest() db.VectorDest { return nil }

func (m *mockStore) Dialect() dialect.Dialect { return m.dialect }

type errRow struct{ err error }

func (r errRow) Scan(_ ...any) error { return r.err }

func newTestRepo(t *testing.T) (*Repo, *sqlite.Store) {
	t.Helper()
	s := dbtest.New(t)
	return New(s, 0, nil, zap.NewNop()), s
}
