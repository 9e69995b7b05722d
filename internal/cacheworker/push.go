package cacheworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"moneymind/internal/logging"
)

// NotificationAction is a button offered on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationData is attached to every push notification.
type NotificationData struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification is what a push payload turns into.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

type noopNotifier struct{}

func (noopNotifier) ShowNotification(context.Context, Notification) error { return nil }

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// Push turns a push message into a notification. An empty payload is
// ignored and yields a nil notification.
func (w *Worker) Push(ctx context.Context, payload []byte) (*Notification, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var data pushPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}

	n := Notification{
		Title:   data.Title,
		Body:    data.Body,
		Icon:    w.iconURL,
		Badge:   w.iconURL,
		Vibrate: []int{100, 50, 100},
		Data: NotificationData{
			DateOfArrival: time.Now().UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View details", Icon: w.iconURL},
			{Action: ActionClose, Title: "Close", Icon: w.iconURL},
		},
	}
	if err := w.notifier.ShowNotification(ctx, n); err != nil {
		logging.WarnWithContext(w.logger, "push notification not shown", "worker_push_failed",
			logging.String("title", n.Title),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
		return &n, fmt.Errorf("show notification: %w", err)
	}
	w.logger.Info("push notification shown",
		logging.String(logging.FieldEventType, "worker_push"),
		logging.String("title", n.Title),
	)
	return &n, nil
}

// ClickResult tells the client what a notification click does.
type ClickResult struct {
	Action string `json:"action"`
	Close  bool   `json:"close"`
	Open   string `json:"open,omitempty"`
}

// NotificationClick resolves a click on a notification. The notification is
// always closed; every action except close opens the root document.
func (w *Worker) NotificationClick(action string) ClickResult {
	result := ClickResult{Action: action, Close: true}
	if action != ActionClose {
		result.Open = w.originURL("/")
	}
	return result
}
