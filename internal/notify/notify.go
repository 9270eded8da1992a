// Package notify raises desktop notifications about the dev server.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"devlaunch/internal/runtime"
)

// AppName is shown as the notification source where the platform supports it.
const AppName = "devlaunch"

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Notifier sends each distinct notification once.
type Notifier struct {
	send   SendFunc
	logger *zap.Logger

	mu   sync.Mutex
	sent map[string]bool
}

// New returns a notifier using send, or the desktop when send is nil.
func New(logger *zap.Logger, send SendFunc) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if send == nil {
		beeep.AppName = AppName
		send = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return &Notifier{send: send, logger: logger, sent: make(map[string]bool)}
}

// Notify sends title and message unless the same pair was already sent.
// Delivery failures are logged; a missing notification daemon must not
// affect the launch.
func (n *Notifier) Notify(title, message string) {
	key := title + "\x00" + message
	n.mu.Lock()
	if n.sent[key] {
		n.mu.Unlock()
		return
	}
	n.sent[key] = true
	n.mu.Unlock()

	if err := n.send(title, message); err != nil {
		n.logger.Debug("Desktop notification failed", zap.Error(err))
	}
}

// Ready announces the reachable URLs of a ready server.
func (n *Notifier) Ready(profile, localURL, tunnelURL string) {
	switch {
	case tunnelURL != "":
		n.Notify(fmt.Sprintf("%s is public", profile), tunnelURL)
	case localURL != "":
		n.Notify(fmt.Sprintf("%s is ready", profile), localURL)
	default:
		n.Notify(fmt.Sprintf("%s is ready", profile), "dev server is running")
	}
}

// Failed announces a launch that did not reach ready.
func (n *Notifier) Failed(profile string, err error) {
	n.Notify(fmt.Sprintf("%s failed to start", profile), err.Error())
}

// Watch notifies on runtime events until ctx is done or events is closed:
// once when the negotiation finishes and again when a tunnel URL arrives.
func (n *Notifier) Watch(ctx context.Context, events <-chan runtime.Event, profile string, localURL func() string) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case runtime.EventTypeNegotiationFinished:
				result, _ := evt.Payload["result"].(string)
				if result == "ready" {
					n.Ready(profile, localURL(), "")
				} else {
					n.Failed(profile, fmt.Errorf("negotiation ended %s", result))
				}
			case runtime.EventTypeTunnelReady:
				if url, _ := evt.Payload["url"].(string); url != "" {
					n.Ready(profile, "", url)
				}
			}
		}
	}
}
