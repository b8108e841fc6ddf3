package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldrover/rescuecam/internal/camera"
)

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("fake clip bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestQuickCheck(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req quickRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Kind != "frame" {
			t.Errorf("Kind = %q, want frame", req.Kind)
		}
		payload, err := base64.StdEncoding.DecodeString(req.Media)
		if err != nil || string(payload) != "jpegdata" {
			t.Errorf("Media payload = %q, %v", payload, err)
		}

		json.NewEncoder(w).Encode(providerResponse{
			Status: "ok",
			Output: `{"person_detected": true, "person_centered": true, "confidence": 0.9}`,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{QuickURL: srv.URL, APIKey: "test-key"})
	res, err := c.QuickCheck(context.Background(), camera.Frame{Data: []byte("jpegdata")})
	if err != nil {
		t.Fatalf("QuickCheck() error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !res.Detected || !res.Centered || res.Confidence != 0.9 {
		t.Errorf("result = %+v", res)
	}
	if res.Phase != PhaseAcquisition {
		t.Errorf("Phase = %q, want %q", res.Phase, PhaseAcquisition)
	}
}

func TestQuickCheckBareTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("I can see a person in the frame."))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{QuickURL: srv.URL})
	res, err := c.QuickCheck(context.Background(), camera.Frame{Data: []byte("x")})
	if err != nil {
		t.Fatalf("QuickCheck() error: %v", err)
	}
	if !res.Detected {
		t.Error("Detected = false, want true via keyword fallback")
	}
}

func TestQuickCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{QuickURL: srv.URL})
	if _, err := c.QuickCheck(context.Background(), camera.Frame{Data: []byte("x")}); err == nil {
		t.Fatal("QuickCheck() error = nil, want provider error")
	}
}

func TestDeepAnalyzeSubmitPollFetch(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tasks":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			f, hdr, err := r.FormFile("video")
			if err != nil {
				t.Errorf("form file: %v", err)
			} else {
				f.Close()
				if hdr.Filename != "clip.mp4" {
					t.Errorf("filename = %q", hdr.Filename)
				}
			}
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-123"})

		case r.Method == http.MethodGet && r.URL.Path == "/tasks/task-123":
			status := "indexing"
			if polls.Add(1) >= 3 {
				status = "ready"
			}
			json.NewEncoder(w).Encode(map[string]string{"status": status})

		case r.Method == http.MethodPost && r.URL.Path == "/analyze":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["task_id"] != "task-123" {
				t.Errorf("task_id = %q", req["task_id"])
			}
			json.NewEncoder(w).Encode(providerResponse{
				Output: `{"survivors_detected": true, "survivor_count": 2, "rescue_priority": "high"}`,
			})

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		DeepURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	})
	res, err := c.DeepAnalyze(context.Background(), writeClip(t))
	if err != nil {
		t.Fatalf("DeepAnalyze() error: %v", err)
	}

	if polls.Load() < 3 {
		t.Errorf("polls = %d, want at least 3", polls.Load())
	}
	if !res.Detected || res.Count != 2 || res.Urgency != "high" {
		t.Errorf("result = %+v", res)
	}
	if res.Phase != PhaseConfirmation {
		t.Errorf("Phase = %q, want %q", res.Phase, PhaseConfirmation)
	}
}

func TestDeepAnalyzeFailedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tasks":
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-9"})
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
		default:
			t.Errorf("unexpected request to %s after failed task", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		DeepURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	})
	if _, err := c.DeepAnalyze(context.Background(), writeClip(t)); err == nil {
		t.Fatal("DeepAnalyze() error = nil, want failure")
	}
}

func TestDeepAnalyzePollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tasks" {
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-slow"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "indexing"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		DeepURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  150 * time.Millisecond,
	})

	start := time.Now()
	_, err := c.DeepAnalyze(context.Background(), writeClip(t))
	if err == nil {
		t.Fatal("DeepAnalyze() error = nil, want deadline error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("DeepAnalyze() took %v, want prompt deadline exit", elapsed)
	}
}

func TestDeepAnalyzeMissingClip(t *testing.T) {
	c := NewClient(ClientConfig{DeepURL: "http://127.0.0.1:0"})
	if _, err := c.DeepAnalyze(context.Background(), filepath.Join(t.TempDir(), "nope.mp4")); err == nil {
		t.Fatal("DeepAnalyze() error = nil, want open error")
	}
}
