package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SyncTagWorkouts is the background sync tag that uploads queued workouts.
const SyncTagWorkouts = "sync-workout-data"

// Notification actions.
const (
	ActionView  = "view"
	ActionClose = "close"
)

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// NotificationAction is a button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what a push message is shown as.
type Notification struct {
	Title      string               `json:"title"`
	Body       string               `json:"body"`
	Icon       string               `json:"icon"`
	Badge      string               `json:"badge"`
	Vibrate    []int                `json:"vibrate,omitempty"`
	URL        string               `json:"url"`
	Actions    []NotificationAction `json:"actions"`
	ReceivedAt time.Time            `json:"receivedAt"`
}

// SyncResult summarizes one background sync run.
type SyncResult struct {
	Attempted int `json:"attempted"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
}

// Sync handles a background sync event. Only SyncTagWorkouts does anything:
// each queued workout is POSTed once to the workouts API and removed from
// the queue on success. Failures are logged and left queued for the next
// sync event; nothing is retried within a run.
func (c *Controller) Sync(ctx context.Context, tag string) (SyncResult, error) {
	var res SyncResult
	if tag != SyncTagWorkouts {
		c.log.Debug("sync tag ignored", "tag", tag)
		return res, nil
	}
	if c.Phase() != PhaseActivated {
		return res, ErrNotActivated
	}
	if c.queue == nil {
		return res, nil
	}

	pending, err := c.queue.Pending(ctx)
	if err != nil {
		c.log.Error("reading workout queue failed", "error", err)
		return res, fmt.Errorf("sync: %w", err)
	}
	if len(pending) == 0 {
		c.log.Debug("workout queue empty")
		return res, nil
	}

	endpoint := c.resolve(&url.URL{Path: strings.TrimSuffix(c.opts.APIPrefix, "/") + "/workouts"})
	for _, w := range pending {
		res.Attempted++
		if err := c.uploadWorkout(ctx, endpoint.String(), w); err != nil {
			res.Failed++
			c.log.Error("workout upload failed", "id", w.ID, "error", err)
			continue
		}
		if err := c.queue.Remove(ctx, w.ID); err != nil {
			c.log.Error("removing uploaded workout failed", "id", w.ID, "error", err)
		}
		res.Uploaded++
	}

	c.log.Info("workout sync finished", "attempted", res.Attempted, "uploaded", res.Uploaded, "failed", res.Failed)
	return res, nil
}

func (c *Controller) uploadWorkout(ctx context.Context, endpoint string, w PendingWorkout) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(w.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", w.ID)

	resp, err := c.fetch(ctx, req)
	if err != nil {
		return err
	}
	if !isSuccess(resp.Status) {
		return fmt.Errorf("upstream status %d", resp.Status)
	}
	return nil
}

// Push handles a push message. An empty payload is a no-op and returns nil.
// A payload that is not JSON is shown as the notification body.
func (c *Controller) Push(ctx context.Context, payload []byte) (*Notification, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		c.log.Debug("empty push ignored")
		return nil, nil
	}

	var p PushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		p = PushPayload{Body: string(payload)}
	}

	n := NewNotification(p)
	if err := c.notifier.Show(ctx, n); err != nil {
		c.log.Error("showing notification failed", "error", err)
		return &n, fmt.Errorf("push: %w", err)
	}
	return &n, nil
}

// NewNotification builds the notification shown for p, with the fixed
// view and close actions.
func NewNotification(p PushPayload) Notification {
	n := Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    p.Icon,
		Badge:   "/favicon.ico",
		Vibrate: []int{100, 50, 100},
		URL:     p.URL,
		Actions: []NotificationAction{
			{Action: ActionView, Title: "View"},
			{Action: ActionClose, Title: "Close"},
		},
		ReceivedAt: time.Now().UTC(),
	}
	if n.Title == "" {
		n.Title = "FitFusion"
	}
	if n.Body == "" {
		n.Body = "You have a new update"
	}
	if n.Icon == "" {
		n.Icon = "/favicon.ico"
	}
	return n
}

// NotificationClick returns the URL to open for a click on n. Only the view
// action opens anything; it falls back to the app root.
func NotificationClick(action string, n Notification) (string, bool) {
	if action != ActionView {
		return "", false
	}
	if n.URL != "" {
		return n.URL, true
	}
	return "/", true
}
