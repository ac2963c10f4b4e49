package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestUploadSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(constraints.HeaderAPIKey) != "key-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		if string(body) != "identifier,name\nP1,Widget\n" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(v1.ImportAccepted{TaskID: "t1", Status: "submitted", Filename: fh.Filename})
	}))
	defer srv.Close()

	c := New(srv.URL, "key-1")
	got, err := c.Upload(context.Background(), "catalog.csv", strings.NewReader("identifier,name\nP1,Widget\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got.TaskID != "t1" || got.Filename != "catalog.csv" {
		t.Errorf("unexpected response %+v", got)
	}

	_, err = New(srv.URL, "wrong").Upload(context.Background(), "catalog.csv", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("err = %v, want 403 APIError", err)
	}
}

func TestWaitRetriesUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"status temporarily unavailable"}`))
		case 2:
			_, _ = w.Write([]byte(`{"task_id":"t1","state":"Processing"}`))
		default:
			_, _ = w.Write([]byte(`{"task_id":"t1","state":"Completed"}`))
		}
	}))
	defer srv.Close()

	st, err := New(srv.URL, "k").Wait(context.Background(), "t1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st.State != constraints.StatusCompleted {
		t.Errorf("state = %s", st.State)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestWatchStopsAtTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, ev := range []string{
			"event:status\ndata:{\"task_id\":\"t1\",\"state\":\"Processing\"}\n\n",
			"event:ping\ndata:{}\n\n",
			"event:status\ndata:{\"task_id\":\"t1\",\"state\":\"Completed\"}\n\n",
		} {
			fmt.Fprint(w, ev)
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var states []constraints.Status
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := New(srv.URL, "k").Watch(ctx, "t1", func(st v1.ImportStatus) {
		states = append(states, st.State)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	want := []constraints.Status{constraints.StatusProcessing, constraints.StatusCompleted}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestWatchGivesUpOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(srv.URL, "k").Watch(context.Background(), "t1", func(v1.ImportStatus) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestWebhookHandlerVerifiesSignature(t *testing.T) {
	var got []string
	h := WebhookHandler("s3cret", func(env v1.Envelope) { got = append(got, env.Event) })
	body := `{"event":"entity.created","timestamp":"2024-01-01T00:00:00Z","data":{"identifier":"P1"}}`

	tests := []struct {
		name string
		sig  string
		want int
	}{
		{"valid", v1.Sign("s3cret", []byte(body)), http.StatusNoContent},
		{"wrong secret", v1.Sign("other", []byte(body)), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			if tt.sig != "" {
				r.Header.Set(constraints.HeaderSignature, tt.sig)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
	if len(got) != 1 || got[0] != "entity.created" {
		t.Errorf("delivered = %v", got)
	}
}
