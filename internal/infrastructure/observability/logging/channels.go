// Package logging provides structured, multi-channel logging for the
// presence server, built on log/slog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Channel represents a logical logging channel for a subsystem of
// the presence server.
type Channel string

const (
	ChannelSystem   Channel = "system"
	ChannelStartup  Channel = "startup"
	ChannelShutdown Channel = "shutdown"

	ChannelPresence   Channel = "presence"
	ChannelWebsocket  Channel = "websocket"
	ChannelEMA        Channel = "ema"
	ChannelDisconnect Channel = "disconnect"
	ChannelRedis      Channel = "redis"
	ChannelHTTP       Channel = "http"

	ChannelDebug Channel = "debug"
	ChannelTrace Channel = "trace"
)

var allChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelPresence, ChannelWebsocket, ChannelEMA, ChannelDisconnect, ChannelRedis, ChannelHTTP,
	ChannelDebug, ChannelTrace,
}

// ChanneledLogger provides structured logging with multiple channels,
// each backed by its own *slog.Logger so per-subsystem verbosity can
// be tuned independently.
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger.
type LoggerConfig struct {
	OutputToFile    bool
	OutputToConsole bool
	LogDirectory    string

	JSONFormat    bool
	IncludeSource bool

	DefaultLevel  slog.Level
	ChannelLevels map[Channel]slog.Level
}

// DefaultLoggerConfig returns a sensible default configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    true,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a channeled logger with the given
// configuration, or DefaultLoggerConfig() if config is nil.
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
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

	for _, channel := range allChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()
	return cl.createChannelLoggerLocked(channel)
}

// createChannelLoggerLocked builds a channel's logger assuming the
// caller already holds configMu (read or write). It must never
// acquire configMu itself, since Go's RWMutex is not reentrant.
func (cl *ChanneledLogger) createChannelLoggerLocked(channel Channel) (*slog.Logger, error) {
	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer
	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		filename := fmt.Sprintf("%s.log", string(channel))
		path := filepath.Join(cl.config.LogDirectory, filename)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		writers = append(writers, file)
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

func (cl *ChanneledLogger) System() *slog.Logger     { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger    { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger   { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Presence() *slog.Logger   { return cl.channels[ChannelPresence] }
func (cl *ChanneledLogger) Websocket() *slog.Logger  { return cl.channels[ChannelWebsocket] }
func (cl *ChanneledLogger) EMA() *slog.Logger        { return cl.channels[ChannelEMA] }
func (cl *ChanneledLogger) Disconnect() *slog.Logger { return cl.channels[ChannelDisconnect] }
func (cl *ChanneledLogger) Redis() *slog.Logger      { return cl.channels[ChannelRedis] }
func (cl *ChanneledLogger) HTTP() *slog.Logger       { return cl.channels[ChannelHTTP] }
func (cl *ChanneledLogger) Debug() *slog.Logger      { return cl.channels[ChannelDebug] }
func (cl *ChanneledLogger) Trace() *slog.Logger      { return cl.channels[ChannelTrace] }

// GetChannel returns a logger for a specific channel, falling back to
// the system channel if the channel is unknown.
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithCustomer returns a logger annotated with a customer id.
func (cl *ChanneledLogger) WithCustomer(channel Channel, customerID string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("customerId", customerID))
}

// LogError logs an error with channel, operation, and customer context.
func (cl *ChanneledLogger) LogError(channel Channel, operation string, err error, customerID string, metadata map[string]any) {
	logger := cl.GetChannel(channel).With(
		slog.String("operation", operation),
		slog.String("customerId", customerID),
		slog.String("error", err.Error()),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	logger.Error("operation failed")
}

// LogStartupPhase logs a phase of the application boot sequence.
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
		logger.Info("startup phase completed")
	} else {
		logger.Error("startup phase failed")
	}
}

// SetChannelLevel dynamically changes the log level for a channel.
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level slog.Level) error {
	cl.configMu.Lock()
	defer cl.configMu.Unlock()

	if _, exists := cl.channels[channel]; !exists {
		return fmt.Errorf("channel %s does not exist", channel)
	}

	cl.config.ChannelLevels[channel] = level

	newLogger, err := cl.createChannelLoggerLocked(channel)
	if err != nil {
		return fmt.Errorf("failed to recreate logger for channel %s: %w", channel, err)
	}
	cl.channels[channel] = newLogger
	return nil
}

// GetChannelLevels returns the current log level for every channel.
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
