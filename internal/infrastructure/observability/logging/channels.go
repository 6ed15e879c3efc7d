// Package logging provides structured logging channels for the entity cache,
// its queue reconciler and the hosts built around it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"   // General system operations
	ChannelStartup  Channel = "startup"  // Application startup and initialization
	ChannelShutdown Channel = "shutdown" // Application shutdown and cleanup

	// Cache channels
	ChannelCache     Channel = "cache"     // Collection reads, resets and windows
	ChannelQueue     Channel = "queue"     // Action queue and reconciliation
	ChannelNormalize Channel = "normalize" // Reference walking and merges
	ChannelModifier  Channel = "modifier"  // Lifecycle hook execution

	// Infrastructure channels
	ChannelTransport Channel = "transport" // Outgoing API requests
	ChannelDatabase  Channel = "database"  // Development backend storage
	ChannelAuth      Channel = "auth"      // Token minting and validation
	ChannelRealtime  Channel = "realtime"  // Websocket change feeds

	// Performance and monitoring channels
	ChannelPerf        Channel = "performance"  // Performance monitoring and metrics
	ChannelSlowRequest Channel = "slow-request" // Operations over the slow threshold
	ChannelAlert       Channel = "alert"        // Performance alerts and warnings

	ChannelDebug Channel = "debug"
)

// AllChannels lists every channel in creation order.
var AllChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelCache, ChannelQueue, ChannelNormalize, ChannelModifier,
	ChannelTransport, ChannelDatabase, ChannelAuth, ChannelRealtime,
	ChannelPerf, ChannelSlowRequest, ChannelAlert,
	ChannelDebug,
}

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	files    []*os.File
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	// Output configuration
	OutputToFile    bool      `json:"outputToFile"`    // One <channel>.log file per channel
	OutputToConsole bool      `json:"outputToConsole"` // Write to stdout
	LogDirectory    string    `json:"logDirectory"`    // Directory for log files
	Output          io.Writer `json:"-"`               // Extra writer, used by tests and embedders
	Feed            *LogFeed  `json:"-"`               // Live log feed for websocket clients

	// Formatting configuration
	JSONFormat    bool `json:"jsonFormat"`
	IncludeSource bool `json:"includeSource"`

	// Level configuration per channel
	DefaultLevel  slog.Level             `json:"defaultLevel"`
	ChannelLevels map[Channel]slog.Level `json:"channelLevels"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.ChannelLevels == nil {
		config.ChannelLevels = make(map[Channel]slog.Level)
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, channel := range AllChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			logger.closeFiles()
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Components fall back to it
// when constructed without a logger.
func Discard() *ChanneledLogger {
	logger, _ := NewChanneledLogger(&LoggerConfig{Output: io.Discard, JSONFormat: true, DefaultLevel: slog.LevelError + 4})
	return logger
}

// NewWriterLogger returns a JSON logger writing every channel at level and
// above to w.
func NewWriterLogger(w io.Writer, level slog.Level) *ChanneledLogger {
	logger, _ := NewChanneledLogger(&LoggerConfig{Output: w, JSONFormat: true, DefaultLevel: level})
	return logger
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer
	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}
	if cl.config.Output != nil {
		writers = append(writers, cl.config.Output)
	}
	if cl.config.OutputToFile {
		path := filepath.Join(cl.config.LogDirectory, string(channel)+".log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		cl.files = append(cl.files, file)
		writers = append(writers, file)
	}
	if cl.config.Feed != nil {
		writers = append(writers, cl.config.Feed)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger      { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger     { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger    { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Cache() *slog.Logger       { return cl.channels[ChannelCache] }
func (cl *ChanneledLogger) Queue() *slog.Logger       { return cl.channels[ChannelQueue] }
func (cl *ChanneledLogger) Normalize() *slog.Logger   { return cl.channels[ChannelNormalize] }
func (cl *ChanneledLogger) Modifier() *slog.Logger    { return cl.channels[ChannelModifier] }
func (cl *ChanneledLogger) Transport() *slog.Logger   { return cl.channels[ChannelTransport] }
func (cl *ChanneledLogger) Database() *slog.Logger    { return cl.channels[ChannelDatabase] }
func (cl *ChanneledLogger) Auth() *slog.Logger        { return cl.channels[ChannelAuth] }
func (cl *ChanneledLogger) Realtime() *slog.Logger    { return cl.channels[ChannelRealtime] }
func (cl *ChanneledLogger) Perf() *slog.Logger        { return cl.channels[ChannelPerf] }
func (cl *ChanneledLogger) SlowRequest() *slog.Logger { return cl.channels[ChannelSlowRequest] }
func (cl *ChanneledLogger) Alert() *slog.Logger       { return cl.channels[ChannelAlert] }
func (cl *ChanneledLogger) Debug() *slog.Logger       { return cl.channels[ChannelDebug] }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithOperation returns a logger with operation context
func (cl *ChanneledLogger) WithOperation(channel Channel, operation string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("operation", operation))
}

// WithModel returns a logger with model and operation context
func (cl *ChanneledLogger) WithModel(channel Channel, modelKey, operation string) *slog.Logger {
	return cl.GetChannel(channel).With(
		slog.String("model", modelKey),
		slog.String("operation", operation),
	)
}

// WithContext returns a logger carrying the store name and request id found
// in ctx.
func (cl *ChanneledLogger) WithContext(ctx context.Context, channel Channel) *slog.Logger {
	logger := cl.GetChannel(channel)
	if name := StoreName(ctx); name != "" {
		logger = logger.With(slog.String("store", name))
	}
	if requestID := RequestID(ctx); requestID != "" {
		logger = logger.With(slog.String("requestId", requestID))
	}
	return logger
}

// WarnOnce logs a warning unless an identical key was already reported in
// the warning scope carried by ctx. Without a scope every call logs.
func (cl *ChanneledLogger) WarnOnce(ctx context.Context, channel Channel, key, msg string, args ...any) {
	if scope := warningScopeFrom(ctx); scope != nil && !scope.first(key) {
		return
	}
	cl.WithContext(ctx, channel).Warn(msg, args...)
}

// LogSlowRequest logs an operation that exceeded the slow threshold
func (cl *ChanneledLogger) LogSlowRequest(operation string, duration, threshold time.Duration, metadata map[string]any) {
	logger := cl.SlowRequest().With(
		slog.String("operation", operation),
		slog.Duration("duration", duration),
		slog.Duration("threshold", threshold),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	logger.Warn("Slow operation detected")
}

// LogCacheOperation logs collection reads with performance context
func (cl *ChanneledLogger) LogCacheOperation(operation, modelKey, id string, hit bool, duration time.Duration) {
	logger := cl.Cache().With(
		slog.String("operation", operation),
		slog.String("model", modelKey),
		slog.String("id", id),
		slog.Bool("hit", hit),
		slog.Duration("duration", duration),
	)
	if hit {
		logger.Debug("Cache hit")
	} else {
		logger.Debug("Cache miss")
	}
}

// LogAuthOperation logs authentication operations with security context
func (cl *ChanneledLogger) LogAuthOperation(operation, subject string, success bool, metadata map[string]any) {
	logger := cl.Auth().With(
		slog.String("operation", operation),
		slog.String("subject", cl.sanitizeSubject(subject)),
		slog.Bool("success", success),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	if success {
		logger.Info("Authentication operation completed")
	} else {
		logger.Warn("Authentication operation failed")
	}
}

// LogError logs an error with appropriate context and channel
func (cl *ChanneledLogger) LogError(channel Channel, operation string, err error, metadata map[string]any) {
	logger := cl.GetChannel(channel).With(
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	logger.Error("Operation failed")
}

// LogStartupPhase logs application startup phases
func (cl *ChanneledLogger) LogStartupPhase(phase string, duration time.Duration, success bool, metadata map[string]any) {
	logger := cl.Startup().With(
		slog.String("phase", phase),
		slog.Duration("duration", duration),
		slog.Bool("success", success),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	if success {
		logger.Info("Startup phase completed")
	} else {
		logger.Error("Startup phase failed")
	}
}

// LogQuery logs a development backend query, truncating long statements.
func (cl *ChanneledLogger) LogQuery(query string, duration time.Duration, rows int64) {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 500 {
		query = query[:500] + "..."
	}
	cl.Database().Debug("Query executed",
		slog.String("query", query),
		slog.Duration("duration", duration),
		slog.Int64("rows", rows),
	)
}

func (cl *ChanneledLogger) sanitizeSubject(subject string) string {
	if len(subject) <= 4 {
		return "****"
	}
	return subject[:2] + "****" + subject[len(subject)-2:]
}

// Close closes the log files.
func (cl *ChanneledLogger) Close() error {
	cl.System().Info("Channeled logger shutting down")
	return cl.closeFiles()
}

func (cl *ChanneledLogger) closeFiles() error {
	var firstErr error
	for _, f := range cl.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cl.files = nil
	return firstErr
}

// SetChannelLevel dynamically sets the log level for a specific channel
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level slog.Level) error {
	cl.configMu.Lock()
	if _, exists := cl.channels[channel]; !exists {
		cl.configMu.Unlock()
		return fmt.Errorf("channel %s does not exist", channel)
	}
	cl.config.ChannelLevels[channel] = level
	cl.configMu.Unlock()

	newLogger, err := cl.createChannelLogger(channel)
	if err != nil {
		cl.System().Error("Failed to recreate logger for channel on level change", "channel", channel, "error", err)
		return fmt.Errorf("failed to recreate logger for channel %s: %w", channel, err)
	}

	cl.configMu.Lock()
	cl.channels[channel] = newLogger
	cl.configMu.Unlock()

	cl.System().Info("Channel log level updated dynamically",
		slog.String("channel", string(channel)),
		slog.String("level", level.String()),
	)
	return nil
}

// GetChannelLevels returns the current log levels for all channels.
func (cl *ChanneledLogger) GetChannelLevels() map[string]string {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	levels := make(map[string]string)
	for channel := range cl.channels {
		if level, ok := cl.config.ChannelLevels[channel]; ok {
			levels[string(channel)] = level.String()
		} else {
			levels[string(channel)] = cl.config.DefaultLevel.String()
		}
	}
	return levels
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values map to
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
