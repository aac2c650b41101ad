package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/wavegen/wavegen/api"
	"github.com/wavegen/wavegen/diffusion"
	"github.com/wavegen/wavegen/tensor"
)

func testServer() http.Handler {
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	registry.Register("zero", diffusion.ModelFunc(func(x *tensor.Array, t float64) (*tensor.Array, error) {
		return tensor.Zeros(x.Shape()...), nil
	}))
	registry.Register("broken", diffusion.ModelFunc(func(x *tensor.Array, t float64) (*tensor.Array, error) {
		return nil, errors.New("device lost")
	}))

	return (&Server{registry: registry}).GenerateRoutes()
}

// postGenerateHTTP posts against a live listener; gin's streaming needs a
// real ResponseWriter, httptest.ResponseRecorder cannot serve it.
func postGenerateHTTP(t *testing.T, ts *httptest.Server, req api.GenerateRequest) *http.Response {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/api/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postGenerate(t *testing.T, h http.Handler, req api.GenerateRequest) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, r)
	return w
}

func TestVersionRoute(t *testing.T) {
	h := testServer()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if _, ok := resp["version"]; !ok {
		t.Error("version missing from response")
	}
}

func TestGenerateUnknownModel(t *testing.T) {
	w := postGenerate(t, testServer(), api.GenerateRequest{Model: "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGenerateUnknownSolver(t *testing.T) {
	w := postGenerate(t, testServer(), api.GenerateRequest{Model: "zero", Solver: "euler"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["error"] == "" {
		t.Error("error message missing")
	}
}

func TestGenerateMaskWithoutInit(t *testing.T) {
	mask := api.EncodeSignal(tensor.Zeros(1, 16))
	w := postGenerate(t, testServer(), api.GenerateRequest{
		Model:    "zero",
		Mask:     mask,
		Channels: 1,
		Samples:  16,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGenerate(t *testing.T) {
	stream := false
	w := postGenerate(t, testServer(), api.GenerateRequest{
		Model:    "zero",
		Solver:   "heun",
		Steps:    2,
		Seed:     7,
		Channels: 1,
		Samples:  16,
		Stream:   &stream,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp api.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Done {
		t.Error("final response not marked done")
	}

	signal, err := api.DecodeSignal(resp.Signal, resp.Channels, resp.Samples)
	if err != nil {
		t.Fatal(err)
	}
	if signal.Dim(0) != 1 || signal.Dim(1) != 16 {
		t.Errorf("signal shape = %v, want [1 16]", signal.Shape())
	}
}

func TestGenerateError(t *testing.T) {
	stream := false
	w := postGenerate(t, testServer(), api.GenerateRequest{
		Model:    "broken",
		Solver:   "heun",
		Steps:    2,
		Seed:     7,
		Channels: 1,
		Samples:  16,
		Stream:   &stream,
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp["error"], "device lost") {
		t.Errorf("error = %q, want the model failure", resp["error"])
	}
}

func TestGenerateStream(t *testing.T) {
	ts := httptest.NewServer(testServer())
	defer ts.Close()

	w := postGenerateHTTP(t, ts, api.GenerateRequest{
		Model:    "zero",
		Solver:   "heun",
		Steps:    3,
		Seed:     7,
		Channels: 1,
		Samples:  16,
	})
	if w.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(w.Body)
		t.Fatalf("status = %d: %s", w.StatusCode, body)
	}

	var responses []api.GenerateResponse
	scanner := bufio.NewScanner(w.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		var resp api.GenerateResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		responses = append(responses, resp)
	}

	// 3 progress messages plus the final signal.
	if len(responses) != 4 {
		t.Fatalf("got %d stream messages, want 4", len(responses))
	}
	for i, resp := range responses[:3] {
		if resp.Done {
			t.Errorf("progress message %d marked done", i)
		}
		if resp.Step != i+1 || resp.Total != 3 {
			t.Errorf("progress message %d = %d/%d", i, resp.Step, resp.Total)
		}
	}
	if !responses[3].Done || responses[3].Signal == "" {
		t.Error("final message incomplete")
	}
}

func TestGenerateStreamError(t *testing.T) {
	ts := httptest.NewServer(testServer())
	defer ts.Close()

	w := postGenerateHTTP(t, ts, api.GenerateRequest{
		Model:    "broken",
		Solver:   "heun",
		Steps:    2,
		Seed:     7,
		Channels: 1,
		Samples:  16,
	})

	var errMsg string
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var resp map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if msg, ok := resp["error"].(string); ok {
			errMsg = msg
		}
	}
	if !strings.Contains(errMsg, "device lost") {
		t.Errorf("stream error = %q, want the model failure", errMsg)
	}
}
