package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyEndpoint_AllReady(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state
	readiness.mu.Lock()
	readiness.engineReady = true
	readiness.mqttConnected = true
	readiness.mqttOptional = false
	readiness.postgresConnected = true
	readiness.postgresOptional = false
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !resp.Ready {
		t.Error("expected ready=true")
	}
	if resp.Checks["engine"].Status != "ok" {
		t.Errorf("expected engine status 'ok', got '%s'", resp.Checks["engine"].Status)
	}
	if resp.Checks["mqtt"].Status != "ok" {
		t.Errorf("expected mqtt status 'ok', got '%s'", resp.Checks["mqtt"].Status)
	}
	if resp.Checks["postgres"].Status != "ok" {
		t.Errorf("expected postgres status 'ok', got '%s'", resp.Checks["postgres"].Status)
	}
}

func TestReadyEndpoint_EngineNotReady(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state
	readiness.mu.Lock()
	readiness.engineReady = false
	readiness.mqttConnected = true
	readiness.mqttOptional = false
	readiness.postgresConnected = true
	readiness.postgresOptional = false
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks["engine"].Status != "not_ready" {
		t.Errorf("expected engine status 'not_ready', got '%s'", resp.Checks["engine"].Status)
	}
	if resp.NotReadyMsg == "" {
		t.Error("expected non-empty message")
	}
}

func TestReadyEndpoint_OptionalMQTTUnavailable(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state - MQTT unavailable but marked as optional
	readiness.mu.Lock()
	readiness.engineReady = true
	readiness.mqttConnected = false
	readiness.mqttOptional = true
	readiness.postgresConnected = true
	readiness.postgresOptional = false
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 (optional dependency), got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !resp.Ready {
		t.Error("expected ready=true with optional MQTT unavailable")
	}
	if resp.Checks["mqtt"].Status != "unavailable" {
		t.Errorf("expected mqtt status 'unavailable', got '%s'", resp.Checks["mqtt"].Status)
	}
	if !resp.Checks["mqtt"].Optional {
		t.Error("expected mqtt optional=true")
	}
}

func TestReadyEndpoint_RequiredMQTTNotConnected(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state - MQTT not connected and NOT optional
	readiness.mu.Lock()
	readiness.engineReady = true
	readiness.mqttConnected = false
	readiness.mqttOptional = false
	readiness.postgresConnected = true
	readiness.postgresOptional = false
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks["mqtt"].Status != "not_ready" {
		t.Errorf("expected mqtt status 'not_ready', got '%s'", resp.Checks["mqtt"].Status)
	}
}

func TestReadyEndpoint_OptionalPostgresUnavailable(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state - Postgres unavailable but marked as optional
	readiness.mu.Lock()
	readiness.engineReady = true
	readiness.mqttConnected = true
	readiness.mqttOptional = false
	readiness.postgresConnected = false
	readiness.postgresOptional = true
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 (optional dependency), got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !resp.Ready {
		t.Error("expected ready=true with optional Postgres unavailable")
	}
	if resp.Checks["postgres"].Status != "unavailable" {
		t.Errorf("expected postgres status 'unavailable', got '%s'", resp.Checks["postgres"].Status)
	}
	if !resp.Checks["postgres"].Optional {
		t.Error("expected postgres optional=true")
	}
}

func TestReadyEndpoint_MultipleDependenciesNotReady(t *testing.T) {
	clearTLSEnvServer(t)
	// Reset state - multiple issues
	readiness.mu.Lock()
	readiness.engineReady = false
	readiness.mqttConnected = false
	readiness.mqttOptional = false
	readiness.postgresConnected = true
	readiness.postgresOptional = false
	readiness.mu.Unlock()

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Ready {
		t.Error("expected ready=false")
	}
	// Should contain both reasons
	if resp.NotReadyMsg == "" {
		t.Error("expected non-empty message with multiple reasons")
	}
}

func TestSetReadinessState(t *testing.T) {
	clearTLSEnvServer(t)
	// Test SetEngineReady
	SetEngineReady(true)
	readiness.mu.RLock()
	if !readiness.engineReady {
		t.Error("SetEngineReady(true) didn't set state")
	}
	readiness.mu.RUnlock()

	SetEngineReady(false)
	readiness.mu.RLock()
	if readiness.engineReady {
		t.Error("SetEngineReady(false) didn't clear state")
	}
	readiness.mu.RUnlock()

	// Test SetMQTTState
	SetMQTTState(true, false)
	readiness.mu.RLock()
	if !readiness.mqttConnected || readiness.mqttOptional {
		t.Error("SetMQTTState(true, false) didn't set state correctly")
	}
	readiness.mu.RUnlock()

	SetMQTTState(false, true)
	readiness.mu.RLock()
	if readiness.mqttConnected || !readiness.mqttOptional {
		t.Error("SetMQTTState(false, true) didn't set state correctly")
	}
	readiness.mu.RUnlock()

	// Test SetPostgresState
	SetPostgresState(true, false)
	readiness.mu.RLock()
	if !readiness.postgresConnected || readiness.postgresOptional {
		t.Error("SetPostgresState(true, false) didn't set state correctly")
	}
	readiness.mu.RUnlock()

	SetPostgresState(false, true)
	readiness.mu.RLock()
	if readiness.postgresConnected || !readiness.postgresOptional {
		t.Error("SetPostgresState(false, true) didn't set state correctly")
	}
	readiness.mu.RUnlock()
}
