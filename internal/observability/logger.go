package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeContext     EventType = "context"
	EventTypeEngine      EventType = "engine"
	EventTypeProgress    EventType = "progress"
	EventTypeShadow      EventType = "shadow"
	EventTypePerformance EventType = "performance"
	EventTypePersist     EventType = "persist"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. A nil *Logger discards everything.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, filepath.Join("logs", "llm.jsonl"))
}

// NewLoggerTo writes events to out; LLM events are also appended to llmLogPath
// unless it is empty.
func NewLoggerTo(out io.Writer, llmLogPath string) *Logger {
	if out == nil {
		out = io.Discard
	}
	return &Logger{
		out:        out,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": %q}", "failed to marshal event: "+err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0o755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogContext(sessionID string, data map[string]any) {
	l.Log(Event{Type: EventTypeContext, SessionID: sessionID, Data: data})
}

func (l *Logger) LogEngine(sessionID, engine string, data map[string]any) {
	l.Log(Event{Type: EventTypeEngine, SessionID: sessionID, Engine: engine, Data: data})
}

func (l *Logger) LogShadow(sessionID, engine string, data map[string]any) {
	l.Log(Event{Type: EventTypeShadow, SessionID: sessionID, Engine: engine, Data: data})
}

func (l *Logger) LogPerformance(sessionID string, data map[string]any) {
	l.Log(Event{Type: EventTypePerformance, SessionID: sessionID, Data: data})
}

func (l *Logger) LogPersist(sessionID string, status string, err error) {
	data := map[string]any{"status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{Type: EventTypePersist, SessionID: sessionID, Data: data})
}

func (l *Logger) LogLLM(sessionID, engine string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Engine:    engine,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
