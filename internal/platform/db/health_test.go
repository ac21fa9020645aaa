package db

import (
	"encoding/json"
	"testing"
)

func TestPoolStats_JSONContract(t *testing.T) {
	stats := PoolStats{
		TotalConns:    10,
		IdleConns:     5,
		AcquiredConns: 5,
		MaxConns:      20,
		AcquireCount:  100,
		AcquireWait:   "1.5s",
	}

	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_wait"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in health payload", key)
		}
	}
	if m["total_conns"].(float64) != 10 {
		t.Errorf("expected total_conns 10, got %v", m["total_conns"])
	}
	if m["acquire_wait"].(string) != "1.5s" {
		t.Errorf("expected acquire_wait 1.5s, got %v", m["acquire_wait"])
	}
}
