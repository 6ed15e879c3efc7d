package logging

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is one log line as sent to feed clients.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
	Store     string `json:"store,omitempty"`
}

// FeedFilter selects the entries a feed client receives. An empty channel
// matches every channel.
type FeedFilter struct {
	Channel Channel
	Level   slog.Level
}

// FeedClient receives matching log entries on C until it is removed.
type FeedClient struct {
	C      chan LogEntry
	filter FeedFilter
}

// LogFeed is an io.Writer that fans JSON log lines out to subscribed clients.
// Slow clients drop entries instead of blocking the logger.
type LogFeed struct {
	mu      sync.RWMutex
	clients map[*FeedClient]bool
}

// NewLogFeed creates an empty feed.
func NewLogFeed() *LogFeed {
	return &LogFeed{clients: make(map[*FeedClient]bool)}
}

// Subscribe registers a client. Call Unsubscribe when done.
func (f *LogFeed) Subscribe(filter FeedFilter) *FeedClient {
	client := &FeedClient{C: make(chan LogEntry, 100), filter: filter}
	f.mu.Lock()
	f.clients[client] = true
	f.mu.Unlock()
	return client
}

// Unsubscribe removes a client and closes its channel.
func (f *LogFeed) Unsubscribe(client *FeedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients[client] {
		delete(f.clients, client)
		close(client.C)
	}
}

// Len returns the number of subscribed clients.
func (f *LogFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Write implements io.Writer for slog JSON handlers. Lines that are not JSON
// are ignored.
func (f *LogFeed) Write(p []byte) (int, error) {
	if f.Len() == 0 {
		return len(p), nil
	}
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}
	entry := LogEntry{
		Timestamp: stringField(raw, "time"),
		Level:     stringField(raw, "level"),
		Channel:   stringField(raw, "channel"),
		Message:   stringField(raw, "msg"),
		Model:     stringField(raw, "model"),
		Store:     stringField(raw, "store"),
	}
	level := ParseLevel(entry.Level)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for client := range f.clients {
		if client.filter.Channel != "" && client.filter.Channel != Channel(entry.Channel) {
			continue
		}
		if level < client.filter.Level {
			continue
		}
		select {
		case client.C <- entry:
		default:
		}
	}
	return len(p), nil
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// ParseChannel maps a channel name onto a Channel. "all" and "" mean every
// channel.
func ParseChannel(s string) Channel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return ""
	}
	return Channel(s)
}
