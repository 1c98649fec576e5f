package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/rahul/priorities/internal/observability"
)

// Messenger defines the interface for outbound status channels (Telegram, etc.)
type Messenger interface {
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
}

// Notifier forwards terminal progress events from the hub to one chat.
type Notifier struct {
	Messenger Messenger
	ChatID    string
	Hub       *observability.Hub
}

func NewNotifier(m Messenger, chatID string, hub *observability.Hub) *Notifier {
	return &Notifier{Messenger: m, ChatID: chatID, Hub: hub}
}

// Start subscribes before returning, so no event published afterwards is
// missed. The returned channel closes once ctx is done and every buffered
// event has been forwarded.
func (n *Notifier) Start(ctx context.Context) <-chan struct{} {
	events, cancel := n.Hub.Subscribe(observability.AllSessions, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case evt := <-events:
				n.forward(evt)
			case <-ctx.Done():
				for {
					select {
					case evt := <-events:
						n.forward(evt)
					default:
						return
					}
				}
			}
		}
	}()
	return done
}

func (n *Notifier) forward(evt observability.ProgressEvent) {
	if !evt.Stage.Terminal() {
		return
	}
	if err := n.Messenger.Send(n.ChatID, FormatEvent(evt)); err != nil {
		log.Printf("Warning: failed to deliver status for session %s: %v", evt.SessionID, err)
	}
}

// FormatEvent renders a progress event as a one-line chat message.
func FormatEvent(evt observability.ProgressEvent) string {
	var text string
	switch evt.Stage {
	case observability.StageCompleted:
		text = fmt.Sprintf("✅ Plan %s completed", evt.SessionID)
	case observability.StageFailed:
		text = fmt.Sprintf("❌ Plan %s failed", evt.SessionID)
	default:
		text = fmt.Sprintf("⏳ Plan %s %s (%d%%", evt.SessionID, evt.Stage, evt.Percent)
		if evt.TotalIterations > 0 {
			text += fmt.Sprintf(", iteration %d/%d", evt.Iteration, evt.TotalIterations)
		}
		text += ")"
	}
	if evt.Message != "" {
		text += ": " + evt.Message
	}
	return text
}
