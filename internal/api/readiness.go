package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readinessState tracks the dependencies /ready reports on.
type readinessState struct {
	mu                sync.RWMutex
	engineReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{
	mqttOptional:     true,
	postgresOptional: true,
}

// Check is the status of one dependency.
type Check struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool             `json:"ready"`
	Checks      map[string]Check `json:"checks"`
	NotReadyMsg string           `json:"message,omitempty"`
}

// SetEngineReady marks whether the engine and its ledger are usable.
func SetEngineReady(ready bool) {
	readiness.mu.Lock()
	readiness.engineReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records the broker connection. An optional dependency does
// not block readiness when unavailable.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
	if !optional {
		CheckAndAlertMQTT(connected)
	}
}

// SetPostgresState records the database connection.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
	if !optional {
		CheckAndAlertPostgres(connected)
	}
}

// Health exposes connection state to the metrics collector.
type Health struct{}

func (Health) MQTTConnected() bool {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return readiness.mqttConnected
}

func (Health) PostgresConnected() bool {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return readiness.postgresConnected
}

func dependencyCheck(connected, optional bool) Check {
	switch {
	case connected:
		return Check{Status: "ok", Optional: optional}
	case optional:
		return Check{Status: "unavailable", Optional: true}
	default:
		return Check{Status: "not_ready"}
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	engineReady := readiness.engineReady
	mqtt := dependencyCheck(readiness.mqttConnected, readiness.mqttOptional)
	pg := dependencyCheck(readiness.postgresConnected, readiness.postgresOptional)
	readiness.mu.RUnlock()

	resp := ReadinessResponse{
		Ready:  true,
		Checks: map[string]Check{"mqtt": mqtt, "postgres": pg},
	}

	var reasons []string
	if engineReady {
		resp.Checks["engine"] = Check{Status: "ok"}
	} else {
		resp.Checks["engine"] = Check{Status: "not_ready"}
		reasons = append(reasons, "engine not ready")
	}
	if mqtt.Status == "not_ready" {
		reasons = append(reasons, "mqtt not connected")
	}
	if pg.Status == "not_ready" {
		reasons = append(reasons, "postgres not connected")
	}

	w.Header().Set("Content-Type", "application/json")
	if len(reasons) > 0 {
		resp.Ready = false
		resp.NotReadyMsg = strings.Join(reasons, "; ")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
