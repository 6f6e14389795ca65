//go:build e2e && !integration

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("VITAL_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// post sends body as JSON and returns the status and raw response.
func post(t *testing.T, path string, body any) (int, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func TestChatReplies(t *testing.T) {
	status, raw := post(t, "/api/chat", map[string]string{"message": "Hi, who are you?"})
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}
	var reply struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, raw)
	}
	if len(reply.Content) == 0 {
		t.Error("expected non-empty chat reply")
	}
	t.Logf("reply: %.300s", reply.Content)
}

func TestDeterministicScore(t *testing.T) {
	status, raw := post(t, "/api/risk/score", map[string]any{"text": "chest pain after coding", "duration": 0})
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}
	var res struct {
		Score float64 `json:"score"`
		Level string  `json:"level"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if res.Score < 0.5 {
		t.Errorf("expected high severity score >= 0.5, got %.2f", res.Score)
	}
}

// TestIngestStreamsAnalysis ingests a reading and waits for the council's
// analysis_result on the websocket.
func TestIngestStreamsAnalysis(t *testing.T) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Skipf("websocket unavailable: %v", err)
	}
	defer conn.Close()

	status, raw := post(t, "/api/ingest", map[string]any{"text": "Coding since morning, eyes strained", "duration": 200})
	if status != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}

	deadline := time.Now().Add(2 * time.Minute)
	conn.SetReadDeadline(deadline)
	seen := map[string]bool{}
	for !seen["analysis_result"] {
		var env struct {
			Event string `json:"event"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read websocket: %v (seen %v)", err, seen)
		}
		seen[env.Event] = true
	}
	if !seen["sensor_data"] {
		t.Errorf("expected sensor_data before analysis_result, saw %v", seen)
	}
}
