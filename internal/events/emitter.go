package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

// Store persists events. The Postgres client satisfies it.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

var (
	store            Store
	storeMu          sync.RWMutex
	storeErrorLogged bool

	output   io.Writer
	outputMu sync.Mutex
)

// SetStore sets the store used for event persistence. Pass nil to disable.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLogged = false
	storeMu.Unlock()
}

// GetStore returns the current event store (for API queries).
func GetStore() Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

// SetOutput makes Emit also write each event as a JSON line to w.
// Pass nil to disable.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)

	// Persist (error-resistant)
	storeMu.RLock()
	s := store
	errorLogged := storeErrorLogged
	storeMu.RUnlock()

	if s != nil {
		if err := s.Append(ts, level, name, msg, fields); err != nil && !errorLogged {
			// Log error once to avoid spam.
			// Added straight to the buffer, NOT via Emit, so a failing store cannot recurse.
			storeMu.Lock()
			if !storeErrorLogged {
				storeErrorLogged = true
				storeMu.Unlock()
				errEvent := Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event store append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				}
				buffer.Add(errEvent)
				broadcast(errEvent)
			} else {
				storeMu.Unlock()
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outputMu.Lock()
	if output != nil {
		fmt.Fprintln(output, string(b))
	}
	outputMu.Unlock()

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
