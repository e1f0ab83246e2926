package lock

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// scriptedDB answers each statement the service issues with a canned result,
// dispatched on the statement text. The database's conditional upsert and
// conditional delete report their decision as "no rows" and "zero rows
// affected"; the tests pin how those surface as outcomes and errors.
type scriptedDB struct {
	taskCompleted bool
	envCap        *int
	foreignCount  int
	ownsThis      bool
	upsertRow     *domain.DistributedLock
	renewRow      *domain.DistributedLock
	execTag       string
	tx            *scriptedTx
}

func (d *scriptedDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT EXISTS"):
		return fakeRow{vals: []any{d.taskCompleted}}
	case strings.Contains(sql, "max_concurrent_locks"):
		return fakeRow{vals: []any{d.envCap}}
	case strings.Contains(sql, "COUNT(*)"):
		return fakeRow{vals: []any{d.foreignCount, d.ownsThis}}
	case strings.Contains(sql, "INSERT INTO distributed_locks"):
		return lockRow(d.upsertRow)
	case strings.Contains(sql, "UPDATE distributed_locks"):
		return lockRow(d.renewRow)
	}
	return fakeRow{err: fmt.Errorf("unscripted statement: %s", sql)}
}

func (d *scriptedDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unscripted query")
}

func (d *scriptedDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(d.execTag), nil
}

func (d *scriptedDB) Begin(context.Context) (pgx.Tx, error) {
	return d.tx, nil
}

func lockRow(l *domain.DistributedLock) fakeRow {
	if l == nil {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: []any{l.Name, l.EnvironmentID, l.OwnerID, l.AcquiredAt, l.ExpiresAt, l.Version}}
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if r.vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		dv.Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

// scriptedTx records the statements ReleaseWithCompletion runs so tests can
// assert the event insert and the conditional delete share one transaction.
type scriptedTx struct {
	pgx.Tx
	taskPK     *int64
	deleteTag  string
	eventTypes []string
	committed  bool
	rolledBack bool
}

func (tx *scriptedTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{vals: []any{tx.taskPK}}
}

func (tx *scriptedTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "INSERT INTO events") {
		tx.eventTypes = append(tx.eventTypes, fmt.Sprint(args[3]))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag(tx.deleteTag), nil
}

func (tx *scriptedTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *scriptedTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

func newScriptedService(d *scriptedDB) *Service {
	return &Service{
		db:     d,
		logger: logging.Nop(),
		now:    func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestAcquireValidation(t *testing.T) {
	svc := newScriptedService(&scriptedDB{})

	_, err := svc.Acquire(context.Background(), AcquireRequest{OwnerID: "o1", EnvironmentID: "env-1", TTL: time.Minute})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Acquire(context.Background(), AcquireRequest{Name: "job-1", OwnerID: "o1", EnvironmentID: "env-1"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Renew(context.Background(), "job-1", "o1", 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAcquireOutcomes(t *testing.T) {
	two := 2
	held := &domain.DistributedLock{
		Name: "job-1", EnvironmentID: "env-1", OwnerID: "o1",
		AcquiredAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute), Version: 1,
	}
	req := AcquireRequest{Name: "job-1", OwnerID: "o1", EnvironmentID: "env-1", TTL: time.Minute}

	t.Run("completed task short-circuits", func(t *testing.T) {
		svc := newScriptedService(&scriptedDB{taskCompleted: true})
		withCheck := req
		withCheck.CheckTaskCompletion = true
		res, err := svc.Acquire(context.Background(), withCheck)
		require.NoError(t, err)
		require.Equal(t, OutcomeAlreadyCompleted, res.Outcome)
		require.Nil(t, res.Lock)
	})

	t.Run("saturated cap rejects", func(t *testing.T) {
		svc := newScriptedService(&scriptedDB{envCap: &two, foreignCount: 2})
		res, err := svc.Acquire(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, OutcomeConcurrencyLimit, res.Outcome)
	})

	t.Run("reentrant reacquire is exempt from the cap", func(t *testing.T) {
		svc := newScriptedService(&scriptedDB{envCap: &two, foreignCount: 2, ownsThis: true, upsertRow: held})
		res, err := svc.Acquire(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, OutcomeAcquired, res.Outcome)
		require.Equal(t, "o1", res.Lock.OwnerID)
	})

	t.Run("conditional upsert misses means a live foreign lease", func(t *testing.T) {
		svc := newScriptedService(&scriptedDB{upsertRow: nil})
		res, err := svc.Acquire(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, OutcomeHeldByOther, res.Outcome)
		require.Nil(t, res.Lock)
	})

	t.Run("acquired returns the lease row", func(t *testing.T) {
		svc := newScriptedService(&scriptedDB{upsertRow: held})
		res, err := svc.Acquire(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, OutcomeAcquired, res.Outcome)
		require.Equal(t, int64(1), res.Lock.Version)
	})
}

func TestRenewRequiresOwnership(t *testing.T) {
	svc := newScriptedService(&scriptedDB{renewRow: nil})
	_, err := svc.Renew(context.Background(), "job-1", "o2", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockNotOwner)

	renewed := &domain.DistributedLock{Name: "job-1", OwnerID: "o1", Version: 3}
	svc = newScriptedService(&scriptedDB{renewRow: renewed})
	row, err := svc.Renew(context.Background(), "job-1", "o1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(3), row.Version)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	svc := newScriptedService(&scriptedDB{execTag: "DELETE 0"})
	err := svc.Release(context.Background(), "job-1", "o2")
	require.ErrorIs(t, err, domain.ErrLockNotOwner)

	svc = newScriptedService(&scriptedDB{execTag: "DELETE 1"})
	require.NoError(t, svc.Release(context.Background(), "job-1", "o1"))
}

func TestReleaseWithCompletionIsTransactional(t *testing.T) {
	pk := int64(7)
	tx := &scriptedTx{taskPK: &pk, deleteTag: "DELETE 1"}
	svc := newScriptedService(&scriptedDB{tx: tx})

	err := svc.ReleaseWithCompletion(context.Background(), "job-1", "o1", "env-1", "build-1")
	require.NoError(t, err)
	require.True(t, tx.committed)
	require.Equal(t, []string{string(domain.EventTaskCompleted)}, tx.eventTypes)
}

func TestReleaseWithCompletionRollsBackWhenNotOwner(t *testing.T) {
	pk := int64(7)
	tx := &scriptedTx{taskPK: &pk, deleteTag: "DELETE 0"}
	svc := newScriptedService(&scriptedDB{tx: tx})

	err := svc.ReleaseWithCompletion(context.Background(), "job-1", "o2", "env-1", "build-1")
	require.ErrorIs(t, err, domain.ErrLockNotOwner)
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
}
