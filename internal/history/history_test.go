// internal/history/history_test.go
package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int, success bool) Record {
	return Record{
		ID:         fmt.Sprintf("rec-%d", i),
		Timestamp:  time.Unix(int64(1_700_000_000+i), 0),
		OldPrimary: fmt.Sprintf("old-%d", i),
		NewPrimary: fmt.Sprintf("new-%d", i),
		DurationMs: int64(i),
		Trigger:    TriggerManual,
		Success:    success,
	}
}

func TestLedger_FIFOEviction(t *testing.T) {
	l := NewLedger(0)
	require.Equal(t, DefaultCapacity, l.Cap())

	for i := 1; i <= 101; i++ {
		l.Append(context.Background(), record(i, true))
	}

	assert.Equal(t, 100, l.Len())
	records := l.Records()
	assert.Equal(t, "rec-2", records[0].ID, "oldest entry evicted")
	assert.Equal(t, "rec-101", records[99].ID)
}

func TestLedger_Recent(t *testing.T) {
	l := NewLedger(5)
	for i := 1; i <= 7; i++ {
		l.Append(context.Background(), record(i, true))
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "rec-6", recent[0].ID)
	assert.Equal(t, "rec-7", recent[1].ID)
	assert.Len(t, l.Recent(50), 5)
}

func TestLedger_LastSuccessful(t *testing.T) {
	l := NewLedger(10)
	_, ok := l.LastSuccessful()
	assert.False(t, ok)

	l.Append(context.Background(), record(1, true))
	l.Append(context.Background(), record(2, true))
	l.Append(context.Background(), record(3, false))

	last, ok := l.LastSuccessful()
	require.True(t, ok)
	assert.Equal(t, "rec-2", last.ID)

	last, ok = l.Last()
	require.True(t, ok)
	assert.Equal(t, "rec-3", last.ID)
}

func TestLedger_Stats(t *testing.T) {
	l := NewLedger(10)
	assert.Equal(t, Stats{}, l.Stats())

	l.Append(context.Background(), record(10, true))
	l.Append(context.Background(), record(20, false))
	l.Append(context.Background(), record(30, true))
	l.Append(context.Background(), record(40, true))

	stats := l.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.0001)
	assert.InDelta(t, 25.0, stats.AverageDurationMs, 0.0001)
	require.NotNil(t, stats.LastSuccess)
	assert.Equal(t, record(40, true).CompletedAt(), *stats.LastSuccess)
}

type memStore struct {
	saved   []Record
	saveErr error
}

func (m *memStore) Save(ctx context.Context, r Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, r)
	return nil
}

func (m *memStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if len(m.saved) > limit {
		return m.saved[len(m.saved)-limit:], nil
	}
	return m.saved, nil
}

func TestLedger_StoreMirrorAndLoad(t *testing.T) {
	store := &memStore{}
	l := NewLedger(3, WithStore(store))
	for i := 1; i <= 4; i++ {
		l.Append(context.Background(), record(i, true))
	}
	assert.Len(t, store.saved, 4)

	warm := NewLedger(3, WithStore(store))
	n, err := warm.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rec-2", warm.Records()[0].ID)
}

func TestLedger_StoreFailureKeepsRecord(t *testing.T) {
	l := NewLedger(3, WithStore(&memStore{saveErr: errors.New("db down")}))
	l.Append(context.Background(), record(1, true))
	assert.Equal(t, 1, l.Len())
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	r := record(1, false)
	r.Error = "drain failed"

	mock.ExpectExec("INSERT INTO failover_history").
		WithArgs(r.ID, r.Timestamp, r.OldPrimary, r.NewPrimary, r.DurationMs,
			string(r.Trigger), r.Success, r.Error, r.Reason).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	newer, older := record(2, true), record(1, true)

	rows := sqlmock.NewRows([]string{"id", "started_at", "old_primary", "new_primary",
		"duration_ms", "trigger", "success", "error", "reason"}).
		AddRow(newer.ID, newer.Timestamp, newer.OldPrimary, newer.NewPrimary, newer.DurationMs, "manual", true, "", "").
		AddRow(older.ID, older.Timestamp, older.OldPrimary, older.NewPrimary, older.DurationMs, "automatic", true, "", "")
	mock.ExpectQuery("SELECT (.+) FROM failover_history").WithArgs(10).WillReturnRows(rows)

	records, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older.ID, records[0].ID)
	assert.Equal(t, TriggerAutomatic, records[0].Trigger)
	assert.Equal(t, newer.ID, records[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO failover_history").WillReturnError(errors.New("conn reset"))

	err = NewPostgresStore(db).Save(context.Background(), record(1, true))
	assert.ErrorContains(t, err, "conn reset")
}
