package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/eventbus"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/metrics"
)

// Publisher receives delivered notifications and user actions.
type Publisher interface {
	Publish(event eventbus.Event) bool
}

// Options configures a Center.
type Options struct {
	Location   *time.Location
	Authorized bool
	MaxPending int
}

// Center stores pending requests in SQLite and fires them when due.
type Center struct {
	db     *sql.DB
	bus    Publisher
	ledger *ledger.Ledger

	loc        *time.Location
	authorized bool
	maxPending int
	now        func() time.Time

	mu         sync.Mutex
	reschedule chan struct{}
}

// NewCenter creates a notification center.
func NewCenter(db *sql.DB, bus Publisher, l *ledger.Ledger, opts Options) *Center {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Center{
		db:         db,
		bus:        bus,
		ledger:     l,
		loc:        loc,
		authorized: opts.Authorized,
		maxPending: opts.MaxPending,
		now:        time.Now,
		reschedule: make(chan struct{}, 1),
	}
}

// RequestPermission reports whether the center may deliver notifications.
func (c *Center) RequestPermission(ctx context.Context) (bool, error) {
	log.Info().Bool("granted", c.authorized).Msg("Notification permission requested")
	return c.authorized, nil
}

// Register adds a request, replacing any pending request with the same id.
func (c *Center) Register(ctx context.Context, req Request) error {
	err := c.register(ctx, req)
	metrics.IncTriggerOp("register", err)
	return err
}

func (c *Center) register(ctx context.Context, req Request) error {
	if !c.authorized {
		return ErrNotAuthorized
	}
	if req.ID == "" {
		return fmt.Errorf("%w: empty request id", ErrInvalidTrigger)
	}
	if err := req.Trigger.Validate(); err != nil {
		return err
	}

	now := c.now()
	if req.Trigger.Anchor.IsZero() {
		req.Trigger.Anchor = now
	}
	req.CreatedAt = now

	content, err := json.Marshal(req.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	trigger, err := json.Marshal(req.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxPending > 0 {
		var others int
		err := c.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM notification_requests WHERE id != ?
		`, req.ID).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to count pending requests: %w", err)
		}
		if others >= c.maxPending {
			return ErrQuotaExceeded
		}
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO notification_requests (id, alarm_id, content, trigger_spec, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			alarm_id = excluded.alarm_id,
			content = excluded.content,
			trigger_spec = excluded.trigger_spec,
			created_at = excluded.created_at
	`, req.ID, req.Content.Payload.AlarmID, string(content), string(trigger), now.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to store request: %w", err)
	}

	log.Debug().
		Str("id", req.ID).
		Str("kind", string(req.Trigger.Kind)).
		Int("weekday", req.Trigger.Weekday).
		Bool("repeats", req.Trigger.Repeats).
		Msg("Notification request registered")

	c.notifyReschedule()
	return nil
}

// Cancel removes pending requests and delivered notifications with the given
// ids. Unknown ids are ignored.
func (c *Center) Cancel(ctx context.Context, ids []string) error {
	err := c.cancel(ctx, ids)
	metrics.IncTriggerOp("cancel", err)
	return err
}

func (c *Center) cancel(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_requests WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to remove pending requests: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM delivered_notifications WHERE request_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to remove delivered notifications: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	c.notifyReschedule()
	return nil
}

// Pending returns all pending requests ordered by id.
func (c *Center) Pending(ctx context.Context) ([]Request, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, trigger_spec, created_at FROM notification_requests ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var req Request
		var content, trigger string
		var createdAt int64
		if err := rows.Scan(&req.ID, &content, &trigger, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &req.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content of %s: %w", req.ID, err)
		}
		if err := json.Unmarshal([]byte(trigger), &req.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger of %s: %w", req.ID, err)
		}
		req.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, req)
	}
	return out, rows.Err()
}

// Delivered returns delivered notifications, oldest first.
func (c *Center) Delivered(ctx context.Context) ([]Delivery, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, request_id, content, delivered_at FROM delivered_notifications ORDER BY delivered_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (Delivery, error) {
	var d Delivery
	var content string
	var deliveredAt int64
	if err := row.Scan(&d.ID, &d.RequestID, &content, &deliveredAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(content), &d.Content); err != nil {
		return d, fmt.Errorf("failed to unmarshal content of %s: %w", d.ID, err)
	}
	d.DeliveredAt = time.Unix(deliveredAt, 0).UTC()
	return d, nil
}

// Respond records the user's action on a delivered notification, removes it
// and hands the action to the app.
func (c *Center) Respond(ctx context.Context, deliveryID string, action Action) (Delivery, error) {
	c.mu.Lock()
	d, err := scanDelivery(c.db.QueryRowContext(ctx, `
		SELECT id, request_id, content, delivered_at FROM delivered_notifications WHERE id = ?
	`, deliveryID))
	if errors.Is(err, sql.ErrNoRows) {
		c.mu.Unlock()
		return Delivery{}, fmt.Errorf("%w: %s", ErrUnknownNotification, deliveryID)
	}
	if err != nil {
		c.mu.Unlock()
		return Delivery{}, err
	}
	_, err = c.db.ExecContext(ctx, `DELETE FROM delivered_notifications WHERE id = ?`, deliveryID)
	c.mu.Unlock()
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to remove delivered notification: %w", err)
	}

	log.Info().
		Str("notification", deliveryID).
		Str("alarm_id", d.Content.Payload.AlarmID).
		Str("action", string(action)).
		Msg("Notification action received")

	c.bus.Publish(eventbus.Event{
		Type:    eventbus.EventNotificationAction,
		Key:     deliveryID,
		Payload: ActionEvent{Action: action, Delivery: d},
	})
	return d, nil
}

func (c *Center) notifyReschedule() {
	select {
	case c.reschedule <- struct{}{}:
	default:
	}
}

// NextFire returns the earliest fire time after the given time across all
// pending requests.
func (c *Center) NextFire(ctx context.Context, after time.Time) (time.Time, bool, error) {
	pending, err := c.Pending(ctx)
	if err != nil {
		return time.Time{}, false, err
	}

	var earliest time.Time
	found := false
	for _, req := range pending {
		next, ok := req.Trigger.Next(after, c.loc)
		if !ok {
			continue
		}
		if !found || next.Before(earliest) {
			earliest = next
			found = true
		}
	}
	return earliest, found, nil
}

// Run fires due requests until ctx is cancelled. Repeating occurrences missed
// while the center was not running are skipped; overdue one-shot requests fire
// immediately.
func (c *Center) Run(ctx context.Context) error {
	log.Info().Str("timezone", c.loc.String()).Msg("Notification center started")

	cursor := c.now()
	for {
		sleepDuration := time.Hour // default if nothing is pending
		next, ok, err := c.NextFire(ctx, cursor)
		if err != nil {
			log.Error().Err(err).Msg("Failed to compute next notification")
		} else if ok {
			sleepDuration = next.Sub(c.now())
			if sleepDuration < 0 {
				sleepDuration = 0
			}
		}

		log.Debug().
			Dur("sleep_duration", sleepDuration).
			Msg("Notification center sleeping")

		timer := time.NewTimer(sleepDuration)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Notification center stopping")
			return nil

		case <-c.reschedule:
			timer.Stop()
			continue

		case <-timer.C:
			now := c.now()
			if _, err := c.FireDue(ctx, cursor, now); err != nil {
				log.Error().Err(err).Msg("Failed to fire due notifications")
			}
			cursor = now
		}
	}
}

// FireDue delivers every request that came due in (since, now]. A repeating
// request that missed several occurrences is delivered once, for the latest.
// It returns the deliveries made.
func (c *Center) FireDue(ctx context.Context, since, now time.Time) ([]Delivery, error) {
	pending, err := c.Pending(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetPendingTriggers(len(pending))

	var delivered []Delivery
	for _, req := range pending {
		at, ok := req.Trigger.Latest(since, now, c.loc)
		if !ok {
			continue
		}

		d, fresh, err := c.deliver(ctx, req, at)
		if err != nil {
			log.Error().Err(err).Str("id", req.ID).Msg("Failed to deliver notification")
			continue
		}
		if !fresh {
			log.Debug().Str("id", d.ID).Msg("Occurrence already delivered, skipping")
			continue
		}
		delivered = append(delivered, d)
	}
	return delivered, nil
}

func (c *Center) deliver(ctx context.Context, req Request, at time.Time) (Delivery, bool, error) {
	d := Delivery{
		ID:          fmt.Sprintf("%s@%d", req.ID, at.Unix()),
		RequestID:   req.ID,
		Content:     req.Content,
		DeliveredAt: c.now(),
	}

	fresh, err := c.ledger.AppendOnce(ledger.EventTriggerDelivered, req.Content.Payload.AlarmID, d.ID, map[string]any{
		"request_id": req.ID,
		"title":      req.Content.Title,
		"fire_time":  at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return d, false, fmt.Errorf("failed to record delivery: %w", err)
	}

	content, err := json.Marshal(req.Content)
	if err != nil {
		return d, false, err
	}

	c.mu.Lock()
	if fresh {
		_, err = c.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO delivered_notifications (id, request_id, alarm_id, content, delivered_at)
			VALUES (?, ?, ?, ?, ?)
		`, d.ID, req.ID, req.Content.Payload.AlarmID, string(content), d.DeliveredAt.UTC().Unix())
	}
	if err == nil && !req.Trigger.Repeats {
		_, err = c.db.ExecContext(ctx, `DELETE FROM notification_requests WHERE id = ?`, req.ID)
	}
	c.mu.Unlock()
	if err != nil {
		return d, false, err
	}
	if !fresh {
		return d, false, nil
	}

	metrics.IncTriggerFired()
	log.Info().
		Str("notification", d.ID).
		Str("alarm_id", req.Content.Payload.AlarmID).
		Str("title", req.Content.Title).
		Str("body", req.Content.Body).
		Time("fire_time", at).
		Msg("Notification delivered")

	c.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTriggerFired,
		Key:     d.ID,
		Payload: d,
	})
	return d, true, nil
}
