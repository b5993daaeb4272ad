package flaskcompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:5000"
	defaultRequestTimeout = 2 * time.Second
)

type specClient struct {
	baseURL string
	client  *http.Client
}

// newSpecClient skips the calling test unless a server answers at
// SPEC_BASE_URL (default localhost:5000, the Flask port).
func newSpecClient(t *testing.T) *specClient {
	t.Helper()
	baseURL := strings.TrimRight(os.Getenv("SPEC_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &specClient{baseURL: baseURL, client: &http.Client{Timeout: defaultRequestTimeout}}

	resp, err := c.client.Get(baseURL + "/estado_espacios")
	if err != nil {
		t.Skipf("spec server not reachable at %s (set SPEC_BASE_URL to run)", baseURL)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		t.Skipf("spec server at %s answered %d", baseURL, resp.StatusCode)
	}
	return c
}

// do sends a request and returns the open response; the caller closes it.
func (c *specClient) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *specClient) readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return body
}

func (c *specClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp := c.do(t, http.MethodGet, path, nil)
	return resp, c.readAll(t, resp)
}

func (c *specClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

func (c *specClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp := c.do(t, http.MethodPost, path, bytes.NewReader(data))
	return resp, c.readAll(t, resp)
}

// readSSEEvent returns the first complete event of an SSE stream.
func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var event strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if event.Len() > 0 {
				return event.String(), resp.Header, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keepalive
		}
		event.WriteString(line)
		event.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read sse: %w", err)
	}
	return "", nil, fmt.Errorf("sse stream closed before event")
}

func sseData(t *testing.T, event string) []byte {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return []byte(payload)
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func decodeJSONArray(t *testing.T, body []byte) []any {
	t.Helper()
	var payload []any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json array: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

// assertSpacesPayload checks the [{id, ocupado, count}] contract: ids run
// 0..N-1 in order and the flag matches the pixel threshold.
func assertSpacesPayload(t *testing.T, payload []any, threshold float64) {
	t.Helper()
	if len(payload) == 0 {
		t.Fatalf("expected at least one space")
	}
	for i, raw := range payload {
		field := fmt.Sprintf("spaces[%d]", i)
		space := requireMap(t, raw, field)
		id := requireNumber(t, space["id"], field+".id")
		if int(id) != i {
			t.Fatalf("%s.id = %v, want %d", field, id, i)
		}
		occupied := requireBool(t, space["ocupado"], field+".ocupado")
		count := requireNumber(t, space["count"], field+".count")
		if count < 0 {
			t.Fatalf("%s.count = %v, want >= 0", field, count)
		}
		if occupied != (count >= threshold) {
			t.Fatalf("%s ocupado=%v disagrees with count=%v", field, occupied, count)
		}
	}
}

func specThreshold() float64 {
	if raw := os.Getenv("SPEC_THRESHOLD"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return 900
}
