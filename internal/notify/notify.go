// Package notify fans provider-switch events out to the host UI and raises
// desktop notifications. Publishing never blocks the request path: slow
// subscribers lose events rather than stall the caller.
package notify

import (
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/beeep"
)

// Event sources.
const (
	SourceFailover = "failover"
	SourceManual   = "manual"
)

// SwitchEvent is emitted when the active provider for an app changes.
type SwitchEvent struct {
	AppType      string `json:"appType"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName,omitempty"`
	Source       string `json:"source"`
}

// Notifier owns the subscriber list and the desktop notification toggle.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []chan SwitchEvent
	desktop     bool
}

// New builds a notifier. desktop controls whether switch events also raise
// an OS-level notification.
func New(desktop bool) *Notifier {
	return &Notifier{desktop: desktop}
}

// Subscribe registers a listener. The channel is buffered; events are
// dropped for a subscriber that falls behind.
func (n *Notifier) Subscribe() <-chan SwitchEvent {
	ch := make(chan SwitchEvent, 16)
	n.mu.Lock()
	n.subscribers = append(n.subscribers, ch)
	n.mu.Unlock()
	return ch
}

// Publish delivers a switch event to every subscriber and, when enabled,
// shows a desktop notification. Notification failures are ignored: losing
// a toast must never affect a request.
func (n *Notifier) Publish(ev SwitchEvent) {
	log.Printf("🔔 Provider switch: app=%s provider=%s source=%s", ev.AppType, ev.ProviderID, ev.Source)

	if n.desktop {
		name := ev.ProviderName
		if name == "" {
			name = ev.ProviderID
		}
		body := fmt.Sprintf("%s now routes through %s", ev.AppType, name)
		_ = beeep.Notify("ccrelay", body, "")
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}
