package domain

import "time"

// LogLevel classifies journal entries.
type LogLevel string

const (
	LogInfo   LogLevel = "INFO"
	LogWarn   LogLevel = "WARN"
	LogError  LogLevel = "ERROR"
	LogTrade  LogLevel = "TRADE"
	LogSignal LogLevel = "SIGNAL"
)

// LogEntry is an append-only journal record.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Strategy  string    `json:"strategy,omitempty"`
}

// Bus channels used for event fan-out.
const (
	ChannelEvents = "pollypilot:events"
	ChannelTrades = "pollypilot:trades"
)
