package push

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// deadTokenReasons are gateway rejections that mean the token is
// permanently invalid and must be dropped from the store.
var deadTokenReasons = map[string]struct{}{
	"BadDeviceToken":         {},
	"Unregistered":           {},
	"DeviceTokenNotForTopic": {},
}

// IsDeadTokenReason reports whether a gateway reason kills the token.
func IsDeadTokenReason(reason string) bool {
	_, ok := deadTokenReasons[reason]
	return ok
}

var validInterruptionLevels = map[string]struct{}{
	"passive": {}, "active": {}, "time-sensitive": {}, "critical": {},
}

// Notification is one push request bound for a watch.
type Notification struct {
	WatchID  string
	Title    string
	Body     string
	Category string
	Sound    string
	PushType string // "alert" or "background"
	Data     map[string]any
}

// Receipt is the gateway's delivery report, consumed from the receipt
// subject.
type Receipt struct {
	WatchID string `json:"watch_id"`
	Reason  string `json:"reason"`
}

// envelope is what the forwarder publishes for the gateway: the routing
// fields plus the fully rendered APNs message.
type envelope struct {
	WatchID     string         `json:"watch_id"`
	DeviceToken string         `json:"device_token"`
	Environment string         `json:"environment"`
	PushType    string         `json:"push_type"`
	CollapseKey string         `json:"collapse_key,omitempty"`
	Message     map[string]any `json:"message"`
}

// Forwarder renders APNs payloads and hands them to the external push
// gateway over NATS. It never talks to APNs itself.
type Forwarder struct {
	conn           *nats.Conn
	subject        string
	receiptSubject string
	maxRetries     int
	store          *TokenStore
	sub            *nats.Subscription
}

func NewForwarder(conn *nats.Conn, subject, receiptSubject string, maxRetries int, store *TokenStore) *Forwarder {
	return &Forwarder{
		conn:           conn,
		subject:        subject,
		receiptSubject: receiptSubject,
		maxRetries:     maxRetries,
		store:          store,
	}
}

// Send renders and publishes one notification. Unknown watches are a
// silent no-op.
func (f *Forwarder) Send(n Notification) error {
	entry, ok := f.store.Get(n.WatchID)
	if !ok {
		return nil
	}

	message, collapseKey := renderMessage(n)
	data, err := json.Marshal(envelope{
		WatchID:     n.WatchID,
		DeviceToken: entry.DeviceToken,
		Environment: entry.Environment,
		PushType:    pushType(n.PushType),
		CollapseKey: collapseKey,
		Message:     message,
	})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= f.maxRetries; i++ {
		err = f.conn.Publish(f.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", f.maxRetries, err)
}

// StartReceipts subscribes to gateway delivery reports and drops dead
// tokens from the store.
func (f *Forwarder) StartReceipts() error {
	sub, err := f.conn.Subscribe(f.receiptSubject, func(msg *nats.Msg) {
		var r Receipt
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			log.Printf("[DEBUG] Push forwarder: bad receipt: %v", err)
			return
		}
		if r.WatchID == "" || !IsDeadTokenReason(r.Reason) {
			return
		}
		log.Printf("[INFO] Push forwarder: dropping dead token for watch_id=%s (%s)", r.WatchID, r.Reason)
		f.store.Remove(r.WatchID)
	})
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

func (f *Forwarder) Stop() {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
}

func pushType(t string) string {
	if t == "background" {
		return "background"
	}
	return "alert"
}

// renderMessage builds the APNs message shape. Grouping and priority keys
// are lifted out of Data into aps fields; the rest rides along top-level.
func renderMessage(n Notification) (map[string]any, string) {
	aps := map[string]any{}

	if n.Title != "" || n.Body != "" {
		alert := map[string]any{}
		if n.Title != "" {
			alert["title"] = n.Title
		}
		if n.Body != "" {
			alert["body"] = n.Body
		}
		aps["alert"] = alert
	}
	if n.Sound != "" {
		aps["sound"] = n.Sound
	}
	if n.Category != "" {
		aps["category"] = n.Category
	}
	if n.PushType == "background" {
		aps["content-available"] = 1
	}

	collapseKey := ""
	message := map[string]any{"aps": aps}
	for key, value := range n.Data {
		switch key {
		case "group":
			if g, ok := value.(string); ok && g != "" {
				aps["thread-id"] = g
			}
		case "tag":
			if t, ok := value.(string); ok {
				collapseKey = t
			}
		case "priority":
			level, ok := value.(string)
			if !ok {
				continue
			}
			if _, valid := validInterruptionLevels[level]; valid {
				aps["interruption-level"] = level
			} else {
				log.Printf("[WARN] Push forwarder: ignoring invalid interruption-level %q", level)
			}
		default:
			message[key] = value
		}
	}
	return message, collapseKey
}
