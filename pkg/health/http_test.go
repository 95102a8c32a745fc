package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 200 OK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<!doctype html>"))
	}))
	defer server.Close()

	// Create checker
	checker := NewHTTPChecker(server.URL)

	// Perform health check
	ctx := context.Background()
	result := checker.Check(ctx)

	// Verify result
	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}

	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestHTTPChecker_UnhealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 500 Internal Server Error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("error"))
	}))
	defer server.Close()

	// Create checker
	checker := NewHTTPChecker(server.URL)

	// Perform health check
	ctx := context.Background()
	result := checker.Check(ctx)

	// Verify result
	if result.Healthy {
		t.Errorf("Expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestReadinessChecker_404IsUp(t *testing.T) {
	// A dev server without routes yet answers 404; the process is up.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}

	checker := NewReadinessChecker(portOf(t, u))
	checker.URL = server.URL // test server picks its own host:port

	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected 404 to count as up, got unhealthy: %s", result.Message)
	}
}

func TestReadinessChecker_500IsUp(t *testing.T) {
	// Status 500 is still inside the accepted range; the process answered.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewReadinessChecker(1)
	checker.URL = server.URL

	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected 500 to count as up, got unhealthy: %s", result.Message)
	}
}

func TestReadinessChecker_ConnectionRefused(t *testing.T) {
	// Nothing listens on port 1; the probe must fail.
	checker := NewReadinessChecker(1)

	result := checker.Check(context.Background())
	if result.Healthy {
		t.Errorf("Expected unhealthy for refused connection, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_CustomStatusRange(t *testing.T) {
	// Create test HTTP server that returns 201 Created
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated) // 201
	}))
	defer server.Close()

	// Create checker with custom status range (200-299)
	checker := NewHTTPChecker(server.URL).WithStatusRange(200, 299)

	// Perform health check
	ctx := context.Background()
	result := checker.Check(ctx)

	// Verify result
	if !result.Healthy {
		t.Errorf("Expected healthy for 201 status, got unhealthy: %s", result.Message)
	}
}

func TestHTTPChecker_Timeout(t *testing.T) {
	// Create test HTTP server that sleeps longer than timeout
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Create checker with short timeout
	checker := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond)

	// Perform health check
	ctx := context.Background()
	result := checker.Check(ctx)

	// Verify result - should timeout
	if result.Healthy {
		t.Errorf("Expected unhealthy due to timeout, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	// Create test HTTP server that sleeps
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Create checker
	checker := NewHTTPChecker(server.URL)

	// Create context that will be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel context immediately
	cancel()

	// Perform health check
	result := checker.Check(ctx)

	// Verify result - should fail due to cancelled context
	if result.Healthy {
		t.Errorf("Expected unhealthy due to cancelled context, got healthy: %s", result.Message)
	}
}

func TestStatus_WorkerProbeThreshold(t *testing.T) {
	cfg := WorkerProbeConfig()
	status := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	// Below the retry threshold the worker stays healthy.
	status.Update(fail, cfg)
	status.Update(fail, cfg)
	if !status.Healthy {
		t.Error("Expected healthy below retry threshold")
	}

	// The third consecutive failure flips it.
	status.Update(fail, cfg)
	if status.Healthy {
		t.Error("Expected unhealthy after 3 consecutive failures")
	}

	// One success recovers immediately.
	status.Update(ok, cfg)
	if !status.Healthy {
		t.Error("Expected healthy after a success")
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure streak reset, got %d", status.ConsecutiveFailures)
	}
}

func TestHTTPChecker_Type(t *testing.T) {
	checker := NewHTTPChecker("http://example.com")
	if checker.Type() != CheckTypeHTTP {
		t.Errorf("Expected type %s, got %s", CheckTypeHTTP, checker.Type())
	}
}

// portOf extracts the port of a test server URL.
func portOf(t *testing.T, u *url.URL) int {
	t.Helper()
	port := u.Port()
	if port == "" {
		t.Fatal("test server URL has no port")
	}
	n := 0
	for _, c := range port {
		n = n*10 + int(c-'0')
	}
	return n
}
