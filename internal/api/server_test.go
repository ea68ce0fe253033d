package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/alarmstore"
	"github.com/dokzlo13/pilld/internal/calendar"
	"github.com/dokzlo13/pilld/internal/confirm"
	"github.com/dokzlo13/pilld/internal/db"
	"github.com/dokzlo13/pilld/internal/eventbus"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/notify"
	"github.com/dokzlo13/pilld/internal/scheduler"
)

type memRemote struct {
	mu      sync.Mutex
	data    map[string]alarm.Record
	patches []map[string]any
	putErr  error
}

func (m *memRemote) FetchAll(ctx context.Context) ([]alarm.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alarm.Record, 0, len(m.data))
	for _, r := range m.data {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRemote) Put(ctx context.Context, r alarm.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return &alarm.PersistenceError{Op: "put", ID: r.ID, Err: m.putErr}
	}
	m.data[r.ID] = r.Clone()
	return nil
}

func (m *memRemote) Patch(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, fields)
	rec, ok := m.data[id]
	if !ok {
		return nil
	}
	if enabled, ok := fields["enabled"].(bool); ok {
		rec.Enabled = enabled
	}
	m.data[id] = rec
	return nil
}

func (m *memRemote) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(eventbus.Event) bool { return true }

type testEnv struct {
	handler http.Handler
	remote  *memRemote
	deps    Deps
}

func newTestEnv(t *testing.T, authorized bool) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "api.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	remote := &memRemote{data: map[string]alarm.Record{}}
	l := ledger.New(database.DB)
	center := notify.NewCenter(database.DB, nopPublisher{}, l, notify.Options{
		Location:   time.UTC,
		Authorized: authorized,
		MaxPending: 64,
	})
	sched := scheduler.New(center, nil)
	deps := Deps{
		Store:     alarmstore.New(remote, sched),
		Flow:      confirm.New(remote, sched, l, scheduler.DefaultSnoozeDelay),
		Center:    center,
		Scheduler: sched,
		Ledger:    l,
		Exporter:  calendar.NewExporter(nil),
	}

	srv := NewServer("127.0.0.1", 0, []string{"http://localhost:5173"}, deps)
	return &testEnv{handler: srv.Handler(), remote: remote, deps: deps}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) pendingIDs(t *testing.T) []string {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/notifications/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	for _, p := range decode[[]notify.Request](t, rec) {
		ids = append(ids, p.ID)
	}
	return ids
}

var vitamins = alarm.Draft{Name: "Vitamins", Time: "08:30", RepeatDays: []int{1, 3, 5}, LEDs: []int{2}}

func (e *testEnv) addVitamins(t *testing.T) alarm.Record {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/alarms", vitamins)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[mutationResponse](t, rec)
	require.NotNil(t, resp.Alarm)
	assert.Empty(t, resp.Warning)
	return *resp.Alarm
}

func TestAPI_AddListAndSchedule(t *testing.T) {
	env := newTestEnv(t, true)
	added := env.addVitamins(t)

	assert.NotEmpty(t, added.ID)
	assert.True(t, added.Enabled)
	assert.Equal(t, []string{added.ID + "_1", added.ID + "_3", added.ID + "_5"}, env.pendingIDs(t))

	rec := env.do(t, http.MethodGet, "/api/alarms?q=VITA&enabled=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	require.Len(t, list.Alarms, 1)
	assert.Equal(t, added, list.Alarms[0])
	assert.Equal(t, alarmstore.PhaseIdle, list.Phase)

	rec = env.do(t, http.MethodGet, "/api/alarms/"+added.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, added, decode[alarm.Record](t, rec))
}

func TestAPI_AddValidation(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/alarms", alarm.Draft{Time: "25:00"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[errorResponse](t, rec)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"time", "repeatDays", "leds"}, fields)

	rec = env.do(t, http.MethodPost, "/api/alarms", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AddPersistFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.remote.putErr = errors.New("backend down")

	rec := env.do(t, http.MethodPost, "/api/alarms", vitamins)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, env.pendingIDs(t))
}

func TestAPI_ScheduleFailureIsWarning(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/alarms", vitamins)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[mutationResponse](t, rec)
	assert.Contains(t, resp.Warning, "permission")
	assert.Len(t, env.deps.Store.Alarms(), 1, "alarm is saved")
}

func TestAPI_ToggleEditDuplicateDelete(t *testing.T) {
	env := newTestEnv(t, true)
	added := env.addVitamins(t)
	id := added.ID

	rec := env.do(t, http.MethodPut, "/api/alarms/"+id+"/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[mutationResponse](t, rec).Alarm.Enabled)
	assert.Empty(t, env.pendingIDs(t))

	rec = env.do(t, http.MethodPut, "/api/alarms/"+id+"/enabled", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.pendingIDs(t), 3)

	rec = env.do(t, http.MethodPut, "/api/alarms/"+id+"/enabled", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	edit := vitamins
	edit.RepeatDays = []int{7}
	rec = env.do(t, http.MethodPut, "/api/alarms/"+id, edit)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{id + "_7"}, env.pendingIDs(t))

	rec = env.do(t, http.MethodPost, "/api/alarms/"+id+"/duplicate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	dup := decode[mutationResponse](t, rec).Alarm
	assert.Equal(t, "Vitamins (copy)", dup.Name)
	assert.Len(t, env.pendingIDs(t), 2)

	rec = env.do(t, http.MethodDelete, "/api/alarms/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{dup.ID + "_7"}, env.pendingIDs(t))

	rec = env.do(t, http.MethodGet, "/api/alarms/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/alarms/"+id, vitamins)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_NotificationActions(t *testing.T) {
	env := newTestEnv(t, true)
	env.addVitamins(t)

	since := time.Now()
	fired, err := env.deps.Center.FireDue(context.Background(), since, since.Add(8*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, fired, 3)

	rec := env.do(t, http.MethodGet, "/api/notifications/delivered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]notify.Delivery](t, rec), 3)

	rec = env.do(t, http.MethodPost, "/api/notifications/"+fired[0].ID+"/later", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/notifications/"+fired[0].ID+"/confirm", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/notifications/"+fired[0].ID+"/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/notifications/delivered", nil)
	assert.Len(t, decode[[]notify.Delivery](t, rec), 2)
}

func TestAPI_ConfirmationFlow(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/confirmation/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/confirmation/snooze", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	payload := alarm.Payload{AlarmID: "a1", LEDs: []int{2}, Name: "Vitamins"}
	env.deps.Flow.Present(payload)

	rec = env.do(t, http.MethodGet, "/api/confirmation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[confirm.Snapshot](t, rec)
	assert.Equal(t, confirm.StateAwaiting, snap.State)

	rec = env.do(t, http.MethodPost, "/api/confirmation/snooze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	triggerID := decode[map[string]string](t, rec)["triggerId"]
	assert.True(t, strings.HasPrefix(triggerID, scheduler.SnoozePrefix))
	assert.Contains(t, env.pendingIDs(t), triggerID)

	env.deps.Flow.Present(payload)
	rec = env.do(t, http.MethodPost, "/api/confirmation/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, confirm.StateIdle, decode[confirm.Snapshot](t, rec).State)
	assert.Equal(t, []map[string]any{{"turn_off": true}}, env.remote.patches)

	rec = env.do(t, http.MethodPost, "/api/confirmation/confirm", map[string]string{"alarmId": "a1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.remote.patches, 2)

	rec = env.do(t, http.MethodGet, "/api/history?alarm_id=a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ledger.Entry](t, rec)
	require.Len(t, entries, 3)
	types := []ledger.EventType{entries[0].EventType, entries[1].EventType, entries[2].EventType}
	assert.ElementsMatch(t, []ledger.EventType{
		ledger.EventSnoozed, ledger.EventMedicationConfirmed, ledger.EventMedicationConfirmed,
	}, types)

	rec = env.do(t, http.MethodGet, "/api/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ConfirmEmptyBodyUsesPrompt(t *testing.T) {
	env := newTestEnv(t, true)
	env.deps.Flow.Present(alarm.Payload{AlarmID: "a1", LEDs: []int{2}, Name: "Vitamins"})

	// Chunked request with nothing in it: length unknown, body empty
	req := httptest.NewRequest(http.MethodPost, "/api/confirmation/confirm", io.NopCloser(strings.NewReader("")))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []map[string]any{{"turn_off": true}}, env.remote.patches)

	req = httptest.NewRequest(http.MethodPost, "/api/confirmation/confirm", strings.NewReader("{bad"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_TestNotification(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/notifications/test", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{scheduler.TestTriggerID}, env.pendingIDs(t))
}

func TestAPI_CalendarExport(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/api/alarms/calendar.ics", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.addVitamins(t)
	rec = env.do(t, http.MethodGet, "/api/alarms/calendar.ics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "RRULE:FREQ=WEEKLY")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Vitamins")
}

func TestAPI_Refresh(t *testing.T) {
	env := newTestEnv(t, true)
	env.remote.data["ext"] = alarm.Record{ID: "ext", Name: "Added elsewhere", Time: "06:00", Enabled: true}

	rec := env.do(t, http.MethodPost, "/api/alarms/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	require.Len(t, list.Alarms, 1)
	assert.Equal(t, "ext", list.Alarms[0].ID)
}
