package netmon

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"moneymind/internal/logging"
)

// Quality is the coarse link classification used to bias upload decisions.
type Quality string

const (
	QualityUnknown   Quality = "unknown"
	QualityPoor      Quality = "poor"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Classify maps an effective link type to a Quality.
func Classify(effectiveType string) Quality {
	switch strings.ToLower(strings.TrimSpace(effectiveType)) {
	case "slow-2g", "2g":
		return QualityPoor
	case "3g":
		return QualityGood
	case "4g", "5g", "wifi", "ethernet":
		return QualityExcellent
	default:
		return QualityUnknown
	}
}

// Signal is one connectivity observation. An empty EffectiveType means the
// source cannot report link characteristics.
type Signal struct {
	Online        bool
	EffectiveType string
}

// EventKind identifies a connectivity transition.
type EventKind string

const (
	ConnectivityRestored EventKind = "connectivityRestored"
	ConnectivityLost     EventKind = "connectivityLost"
)

// Event is delivered to subscribers on connectivity transitions.
type Event struct {
	Kind    EventKind
	Quality Quality
	At      time.Time
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Online        bool      `json:"online"`
	EffectiveType string    `json:"effective_type,omitempty"`
	Quality       Quality   `json:"quality"`
	LastChange    time.Time `json:"last_change,omitempty"`
}

// Monitor holds the last known connectivity state.
type Monitor struct {
	logger *slog.Logger

	mu            sync.Mutex
	online        bool
	effectiveType string
	lastChange    time.Time
	subscribers   map[uint64]func(Event)
	nextID        uint64
}

// NewMonitor creates a monitor in the given initial connectivity state.
func NewMonitor(initiallyOnline bool, logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:      logging.NewComponentLogger(logger, "netmon"),
		online:      initiallyOnline,
		subscribers: make(map[uint64]func(Event)),
	}
}

// IsOnline reports the last known connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// QualityClass reports the classification of the last known effective link type.
func (m *Monitor) QualityClass() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Classify(m.effectiveType)
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Online:        m.online,
		EffectiveType: m.effectiveType,
		Quality:       Classify(m.effectiveType),
		LastChange:    m.lastChange,
	}
}

// Report records a new observation and notifies subscribers of any
// connectivity transition. Callbacks run on the reporting goroutine after the
// monitor lock is released, so they must not block.
func (m *Monitor) Report(sig Signal) {
	effectiveType := strings.ToLower(strings.TrimSpace(sig.EffectiveType))

	m.mu.Lock()
	wasOnline := m.online
	typeChanged := m.effectiveType != effectiveType
	m.online = sig.Online
	m.effectiveType = effectiveType
	quality := Classify(m.effectiveType)
	var event *Event
	if wasOnline != sig.Online {
		now := time.Now()
		m.lastChange = now
		kind := ConnectivityLost
		if sig.Online {
			kind = ConnectivityRestored
		}
		event = &Event{Kind: kind, Quality: quality, At: now}
	}
	var subscribers []func(Event)
	if event != nil {
		subscribers = make([]func(Event), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			subscribers = append(subscribers, fn)
		}
	}
	m.mu.Unlock()

	if event == nil {
		if typeChanged {
			m.logger.Debug("link quality changed",
				logging.String("effective_type", effectiveType),
				logging.String("quality", string(quality)),
			)
		}
		return
	}

	if event.Kind == ConnectivityRestored {
		m.logger.Info("connection restored",
			logging.String(logging.FieldEventType, "connectivity_restored"),
			logging.String("quality", string(quality)),
		)
	} else {
		m.logger.Info("connection lost",
			logging.String(logging.FieldEventType, "connectivity_lost"),
		)
	}
	for _, fn := range subscribers {
		fn(*event)
	}
}

// Subscribe registers fn for connectivity transitions and returns a function
// that removes the subscription. Calling the returned function twice is safe.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}
