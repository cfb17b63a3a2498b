package domain

import "time"

type EventType string

const (
	EventStrategyStarted     EventType = "strategy_started"
	EventStrategyRestored    EventType = "strategy_restored"
	EventStrategyStopped     EventType = "strategy_stopped"
	EventSignalRejected      EventType = "signal_rejected"
	EventOrderFilled         EventType = "order_filled"
	EventTrailingStopUpdated EventType = "trailing_stop_updated"
	EventPositionClosed      EventType = "position_closed"
	EventError               EventType = "error"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a lifecycle or trade notification for external broadcasters.
type Event struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}
