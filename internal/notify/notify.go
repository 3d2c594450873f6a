package notify

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	PushTitle   = "Miroir - Truth Awaits"
	DefaultBody = "New story available on Miroir"
	Icon        = "/miroir.png"

	ActionExplore = "explore"
	ActionClose   = "close"
)

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is the opaque payload carried by a notification.
type Data struct {
	DateOfArrival int64  `json:"dateOfArrival"` // Unix milliseconds
	PrimaryKey    string `json:"primaryKey"`
	URL           string `json:"url,omitempty"`
}

// Notification mirrors the options of a displayed web notification.
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Tag     string   `json:"tag,omitempty"`
	Vibrate []int    `json:"vibrate,omitempty"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions,omitempty"`
	Silent  bool     `json:"silent,omitempty"`
}

// FromPush builds the notification shown for a push payload. An empty payload gets [DefaultBody].
func FromPush(payload []byte, now time.Time) *Notification {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = DefaultBody
	}

	return &Notification{
		Title:   PushTitle,
		Body:    body,
		Icon:    Icon,
		Badge:   Icon,
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    "1",
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Explore", Icon: Icon},
			{Action: ActionClose, Title: "Close", Icon: Icon},
		},
	}
}

// Click returns the page a notification action opens, or "" when it opens nothing.
//
// An empty action is a click on the notification body and behaves like explore.
func Click(action string) string {
	switch action {
	case ActionExplore, "":
		return "/"
	default:
		return ""
	}
}

// Notifier displays notifications.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// LogNotifier "displays" notifications by logging them. It is what the CLI runtime uses.
type LogNotifier struct {
	Logger *log.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n *Notification) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info(n.Title, "body", n.Body, "url", n.Data.URL, "silent", n.Silent)
	return nil
}
