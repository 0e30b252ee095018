package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flowdeck/internal/pushconn"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, opts...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "http://", "::"} {
		if _, err := NewClient(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestClient_ListTasksAndHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id header")
		}
		_, _ = io.WriteString(w, `{"pending":[{"id":"a","name":"A","status":"pending"}],"running":[{"id":"b","name":"B","status":"running","log_file":"/tmp/b.log"}]}`)
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"history":[{"id":"c","name":"C","status":"failed","duration":12.5,"error_message":"exit 1"}]}`)
	})
	c := newTestClient(t, mux)

	tasks, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks.Pending) != 1 || tasks.Pending[0].ID != "a" || len(tasks.Running) != 1 || tasks.Running[0].LogFile != "/tmp/b.log" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	history, err := c.ListHistory(context.Background())
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusFailed || history[0].Elapsed().Seconds() != 12.5 {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestClient_ErrorDetailIsSurfaced(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"log file missing"}`)
	}))
	_, err := c.TaskLog(context.Background(), "x")
	if err == nil || err.Error() != "log file missing" {
		t.Fatalf("expected detail message, got %v", err)
	}
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", StatusCode(err))
	}
}

func TestClient_NonJSONErrorFallsBackToStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	err := c.DeleteTask(context.Background(), "x")
	if err == nil || err.Error() != "HTTP 500" {
		t.Fatalf("expected HTTP 500, got %v", err)
	}
}

func TestClient_SuccessFalseIsRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"gpu busy"}`)
	}))
	err := c.RunTask(context.Background(), "x")
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "gpu busy") {
		t.Fatalf("expected rejection with message, got %v", err)
	}
}

func TestClient_ReorderSendsOrder(t *testing.T) {
	var got struct {
		Order []string `json:"order"`
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks/reorder" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	if err := c.ReorderTasks(context.Background(), []string{"b", "a"}); err != nil {
		t.Fatalf("ReorderTasks failed: %v", err)
	}
	if strings.Join(got.Order, ",") != "b,a" {
		t.Fatalf("unexpected order body: %#v", got.Order)
	}
}

func TestClient_LogLinesQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/main-log" || r.URL.Query().Get("lines") != "50" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"success":true,"content":"hello","log_file":"/var/log/main.log"}`)
	}), WithLogLines(50))
	out, err := c.MainLog(context.Background())
	if err != nil {
		t.Fatalf("MainLog failed: %v", err)
	}
	if !out.Success || out.Content != "hello" || out.LogFile != "/var/log/main.log" {
		t.Fatalf("unexpected log content: %#v", out)
	}
}

func TestClient_LoginStoresCookieAndSendsIt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "tok-1", Path: "/"})
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	mux.HandleFunc("/api/queue-status", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(SessionCookieName)
		if err != nil || ck.Value != "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"running":true,"pending_count":2,"running_count":1}`)
	})
	c := newTestClient(t, mux)

	token, err := c.Login(context.Background(), "pw")
	if err != nil || token != "tok-1" {
		t.Fatalf("Login: token=%q err=%v", token, err)
	}
	st, err := c.QueueStatus(context.Background())
	if err != nil {
		t.Fatalf("QueueStatus failed: %v", err)
	}
	if !st.Running || st.PendingCount != 2 || st.RunningCount != 1 {
		t.Fatalf("unexpected status: %#v", st)
	}
}

func TestClient_LogStreamURLAndDial(t *testing.T) {
	dialer := &pushconn.FakeDialer{}
	c, err := NewClient("https://example.test/base/", WithDialer(dialer), WithSessionToken("s1"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := c.LogStreamURL("task 1"); got != "wss://example.test/base/ws/logs/task%201" {
		t.Fatalf("unexpected stream url: %s", got)
	}
	if _, err := c.OpenLogStream(context.Background(), "t1"); err != nil {
		t.Fatalf("OpenLogStream failed: %v", err)
	}
	if len(dialer.URLs) != 1 || dialer.URLs[0] != "wss://example.test/base/ws/logs/t1" {
		t.Fatalf("unexpected dial urls: %#v", dialer.URLs)
	}
	if got := dialer.Headers[0].Get("Cookie"); got != "session_token=s1" {
		t.Fatalf("expected session cookie on dial, got %q", got)
	}
}

func TestParseTaskStatus(t *testing.T) {
	if s, ok := ParseTaskStatus(" Failed "); !ok || s != StatusFailed {
		t.Fatalf("unexpected parse result: %q %v", s, ok)
	}
	if _, ok := ParseTaskStatus("queued"); ok {
		t.Fatal("unknown status should not parse")
	}
	if !StatusStopped.Terminal() || StatusRunning.Terminal() {
		t.Fatal("terminal classification is wrong")
	}
}
