package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rahul/priorities/internal/observability"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMessenger) Send(chatID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, chatID+"|"+text)
	return nil
}

func TestNotifierForwardsTerminalEventsOnly(t *testing.T) {
	hub := observability.NewHub(nil)
	m := &fakeMessenger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := NewNotifier(m, "42", hub).Start(ctx)

	hub.Publish(observability.ProgressEvent{SessionID: "s1", Stage: observability.StageScoring, Percent: 30})
	hub.Publish(observability.ProgressEvent{SessionID: "s1", Stage: observability.StageCompleted, Percent: 100, Message: "Ship first."})
	hub.Publish(observability.ProgressEvent{SessionID: "s2", Stage: observability.StageFailed, Message: "No tasks."})
	cancel()
	<-done

	if len(m.sent) != 2 {
		t.Fatalf("expected 2 messages, got %v", m.sent)
	}
	if m.sent[0] != "42|✅ Plan s1 completed: Ship first." {
		t.Errorf("first message = %q", m.sent[0])
	}
	if !strings.HasPrefix(m.sent[1], "42|❌ Plan s2 failed") {
		t.Errorf("second message = %q", m.sent[1])
	}
}

func TestNotifierSurvivesSendErrors(t *testing.T) {
	hub := observability.NewHub(nil)
	m := &fakeMessenger{err: errors.New("network down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := NewNotifier(m, "42", hub).Start(ctx)

	hub.Publish(observability.ProgressEvent{SessionID: "s1", Stage: observability.StageCompleted})
	cancel()
	<-done
	if len(m.sent) != 0 {
		t.Errorf("nothing should be recorded when sending fails: %v", m.sent)
	}
}
