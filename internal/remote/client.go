// Package remote is the client for the alarm backend, a Firebase Realtime
// Database style JSON REST store. All alarms live under one root path as a
// flat map of id to record.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/metrics"
)

// Client talks to the alarm backend.
type Client struct {
	baseURL    string
	rootPath   string
	auth       string
	httpClient *http.Client
}

// NewClient creates a backend client. rootPath must start with "/".
func NewClient(baseURL, rootPath, auth string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		rootPath: rootPath,
		auth:     auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) url(path string) string {
	u := c.baseURL + path + ".json"
	if c.auth != "" {
		u += "?auth=" + url.QueryEscape(c.auth)
	}
	return u
}

func (c *Client) recordURL(id string) string {
	return c.url(c.rootPath + "/" + url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, op, id, method, target string, body any) ([]byte, error) {
	start := time.Now()
	data, err := c.send(ctx, method, target, body)
	metrics.ObserveRemote(op, time.Since(start), err)
	if err != nil {
		log.Error().
			Err(err).
			Str("op", op).
			Str("id", id).
			Msg("Alarm backend request failed")
		return nil, &alarm.PersistenceError{Op: op, ID: id, Err: err}
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, target string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// FetchAll returns every alarm under the root path, ordered by id. Missing or
// mistyped fields take their defaults; entries that are not objects are
// skipped. An empty store (JSON null) yields no alarms.
func (c *Client) FetchAll(ctx context.Context) ([]alarm.Record, error) {
	data, err := c.do(ctx, "fetch", "", http.MethodGet, c.url(c.rootPath), nil)
	if err != nil {
		return nil, err
	}
	records, err := ParseRecords(data)
	if err != nil {
		return nil, &alarm.PersistenceError{Op: "fetch", Err: err}
	}
	return records, nil
}

// storedRecord is the stored form of a record; the id is the key it lives
// under, not a field.
type storedRecord struct {
	Name       string `json:"name"`
	Time       string `json:"time"`
	RepeatDays []int  `json:"repeatDays"`
	LEDs       []int  `json:"leds"`
	Enabled    bool   `json:"enabled"`
}

func toStored(r alarm.Record) storedRecord {
	s := storedRecord{
		Name:       r.Name,
		Time:       r.Time,
		RepeatDays: r.RepeatDays,
		LEDs:       r.LEDs,
		Enabled:    r.Enabled,
	}
	if s.RepeatDays == nil {
		s.RepeatDays = []int{}
	}
	if s.LEDs == nil {
		s.LEDs = []int{}
	}
	return s
}

// Put replaces the record stored under its id.
func (c *Client) Put(ctx context.Context, r alarm.Record) error {
	_, err := c.do(ctx, "put", r.ID, http.MethodPut, c.recordURL(r.ID), toStored(r))
	return err
}

// Patch merges fields into the record stored under id.
func (c *Client) Patch(ctx context.Context, id string, fields map[string]any) error {
	_, err := c.do(ctx, "patch", id, http.MethodPatch, c.recordURL(id), fields)
	return err
}

// Delete removes the record. Deleting a missing record succeeds.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", id, http.MethodDelete, c.recordURL(id), nil)
	return err
}

// ParseRecords decodes the root document leniently.
func ParseRecords(data []byte) ([]alarm.Record, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode alarms: %w", err)
	}

	entries, ok := root.(map[string]any)
	if !ok {
		// null, or anything that is not an id map
		return []alarm.Record{}, nil
	}

	records := make([]alarm.Record, 0, len(entries))
	for id, v := range entries {
		m, ok := v.(map[string]any)
		if !ok {
			log.Debug().Str("id", id).Msg("Skipping non-object alarm entry")
			continue
		}
		records = append(records, alarm.Record{
			ID:         id,
			Name:       stringField(m, "name", alarm.DefaultName),
			Time:       stringField(m, "time", alarm.DefaultTime),
			RepeatDays: intsField(m, "repeatDays"),
			LEDs:       intsField(m, "leds"),
			Enabled:    boolField(m, "enabled", true),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func boolField(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

// intsField keeps the integral numbers of a JSON array.
func intsField(m map[string]any, key string) []int {
	out := []int{}
	arr, ok := m[key].([]any)
	if !ok {
		return out
	}
	for _, v := range arr {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			continue
		}
		out = append(out, int(f))
	}
	return out
}
