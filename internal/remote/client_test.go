package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pilld/internal/alarm"
)

// fakeRTDB serves a flat id map under /alarms, the way the backend does.
type fakeRTDB struct {
	mu       sync.Mutex
	data     map[string]map[string]any
	requests []string
	status   int
}

func newFakeRTDB() *fakeRTDB {
	return &fakeRTDB{data: map[string]map[string]any{}}
}

func (f *fakeRTDB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	if f.status != 0 {
		http.Error(w, `{"error":"nope"}`, f.status)
		return
	}

	path := strings.TrimSuffix(r.URL.Path, ".json")
	if path == "/alarms" && r.Method == http.MethodGet {
		if len(f.data) == 0 {
			io.WriteString(w, "null")
			return
		}
		json.NewEncoder(w).Encode(f.data)
		return
	}

	id := strings.TrimPrefix(path, "/alarms/")
	switch r.Method {
	case http.MethodPut:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.data[id] = body
	case http.MethodPatch:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if f.data[id] == nil {
			f.data[id] = map[string]any{}
		}
		for k, v := range body {
			f.data[id][k] = v
		}
	case http.MethodDelete:
		delete(f.data, id)
	}
	io.WriteString(w, "null")
}

func newTestClient(t *testing.T, auth string) (*Client, *fakeRTDB) {
	t.Helper()
	fake := newFakeRTDB()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "/alarms", auth, time.Second), fake
}

func TestClient_PutFetchRoundTrip(t *testing.T) {
	c, _ := newTestClient(t, "")
	ctx := context.Background()

	r := alarm.Record{ID: "a1", Name: "Vitamins", Time: "08:30", RepeatDays: []int{1, 3, 5}, LEDs: []int{2}, Enabled: true}
	require.NoError(t, c.Put(ctx, r))

	got, err := c.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
}

func TestClient_PutStoresFieldsWithoutID(t *testing.T) {
	c, fake := newTestClient(t, "")

	require.NoError(t, c.Put(context.Background(), alarm.Record{ID: "a1", Name: "Vitamins", Time: "08:30", Enabled: true}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	stored := fake.data["a1"]
	require.NotNil(t, stored)
	assert.NotContains(t, stored, "id")
	assert.Equal(t, map[string]any{
		"name":       "Vitamins",
		"time":       "08:30",
		"repeatDays": []any{},
		"leds":       []any{},
		"enabled":    true,
	}, stored)
}

func TestClient_FetchEmptyStore(t *testing.T) {
	c, _ := newTestClient(t, "")

	got, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_PatchAndDelete(t *testing.T) {
	c, fake := newTestClient(t, "")
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, alarm.Record{ID: "a1", Name: "x", Time: "08:00", Enabled: true}))
	require.NoError(t, c.Patch(ctx, "a1", map[string]any{"enabled": false}))
	require.NoError(t, c.Patch(ctx, "a1", map[string]any{"turn_off": true}))

	fake.mu.Lock()
	assert.Equal(t, false, fake.data["a1"]["enabled"])
	assert.Equal(t, true, fake.data["a1"]["turn_off"])
	fake.mu.Unlock()

	require.NoError(t, c.Delete(ctx, "a1"))
	require.NoError(t, c.Delete(ctx, "a1"), "deleting twice succeeds")

	got, err := c.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_AuthQuery(t *testing.T) {
	c, fake := newTestClient(t, "tok en")
	require.NoError(t, c.Delete(context.Background(), "a1"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"DELETE /alarms/a1.json?auth=tok+en"}, fake.requests)
}

func TestClient_ErrorStatus(t *testing.T) {
	c, fake := newTestClient(t, "")
	fake.status = http.StatusUnauthorized
	ctx := context.Background()

	err := c.Put(ctx, alarm.Record{ID: "a1"})
	var perr *alarm.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "put", perr.Op)
	assert.Equal(t, "a1", perr.ID)
	assert.Contains(t, err.Error(), "401")

	_, err = c.FetchAll(ctx)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "fetch", perr.Op)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, "/alarms", "", time.Second)

	err := c.Delete(context.Background(), "a1")
	var perr *alarm.PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestParseRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []alarm.Record
	}{
		{
			name: "null",
			body: `null`,
			want: []alarm.Record{},
		},
		{
			name: "defaults for missing fields",
			body: `{"b":{}}`,
			want: []alarm.Record{
				{ID: "b", Name: "Alarm", Time: "07:00", RepeatDays: []int{}, LEDs: []int{}, Enabled: true},
			},
		},
		{
			name: "mistyped fields fall back",
			body: `{"b":{"name":5,"time":true,"repeatDays":"mon","leds":[1,"2",2.5,3],"enabled":"yes"}}`,
			want: []alarm.Record{
				{ID: "b", Name: "Alarm", Time: "07:00", RepeatDays: []int{}, LEDs: []int{1, 3}, Enabled: true},
			},
		},
		{
			name: "non-object entries skipped and ids ordered",
			body: `{"z":{"name":"Z","enabled":false},"junk":42,"a":{"name":"A","time":"09:00","repeatDays":[7]}}`,
			want: []alarm.Record{
				{ID: "a", Name: "A", Time: "09:00", RepeatDays: []int{7}, LEDs: []int{}, Enabled: true},
				{ID: "z", Name: "Z", Time: "07:00", RepeatDays: []int{}, LEDs: []int{}, Enabled: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecords([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseRecords([]byte(`{`))
	assert.Error(t, err)
}
