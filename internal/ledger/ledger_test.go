package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pilld/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendOnce_FirstWriterWins(t *testing.T) {
	l := newTestLedger(t)

	inserted, err := l.AppendOnce(EventTriggerDelivered, "a1", "a1_1/1700000000", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.AppendOnce(EventTriggerDelivered, "a1", "a1_1/1700000000", map[string]any{"n": 2})
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.True(t, l.Has(EventTriggerDelivered, "a1_1/1700000000"))
	assert.False(t, l.Has(EventMedicationConfirmed, "a1_1/1700000000"))
	assert.False(t, l.Has(EventTriggerDelivered, ""))

	entries, err := l.Recent("a1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0].Payload["n"])
}

func TestAppendOnce_RequiresKey(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.AppendOnce(EventTriggerDelivered, "a1", "", nil)
	assert.Error(t, err)
}

func TestAppend_AllowsRepeats(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Append(EventMedicationConfirmed, "a1", nil))
	require.NoError(t, l.Append(EventMedicationConfirmed, "a1", nil))
	require.NoError(t, l.Append(EventSnoozed, "b2", map[string]any{"trigger_id": "snooze_x"}))

	all, err := l.Recent("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, EventSnoozed, all[0].EventType)

	onlyA, err := l.Recent("a1", 10)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)
}

func TestDeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.NoError(t, l.Append(EventMedicationConfirmed, "old", nil))

	l.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, l.Append(EventMedicationConfirmed, "new", nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].AlarmID)
}
