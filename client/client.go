package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalogsync: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	addr       string
	apiKey     string
	httpClient *http.Client

	// IdleTimeout reconnects a watch stream that has been silent this long.
	IdleTimeout time.Duration
}

func New(addr, apiKey string) *Client {
	return &Client{
		addr:        strings.TrimRight(addr, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 0},
		IdleTimeout: 45 * time.Second,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(constraints.HeaderAPIKey, c.apiKey)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Upload streams a CSV file to the server as a multipart form.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*v1.ImportAccepted, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/imports", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var accepted v1.ImportAccepted
	if err := c.do(req, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

func (c *Client) Status(ctx context.Context, taskID string) (*v1.ImportStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/imports/"+url.PathEscape(taskID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	var st v1.ImportStatus
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Result(ctx context.Context, taskID string) (*v1.ImportResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/imports/"+url.PathEscape(taskID)+"/result", nil)
	if err != nil {
		return nil, err
	}
	var res v1.ImportResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Cancel(ctx context.Context, taskID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/imports/"+url.PathEscape(taskID)+"/cancel", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Wait polls the status endpoint until the import is Completed or Failed.
func (c *Client) Wait(ctx context.Context, taskID string, interval time.Duration) (*v1.ImportStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, taskID)
		if err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
				return nil, err
			}
			logger.Warn("status unavailable, retrying", zap.String("task_id", taskID))
		} else if st.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Watch follows the import's event stream, calling fn for every status,
// and returns once a terminal status arrives. Dropped connections are
// retried with jittered exponential backoff.
func (c *Client) Watch(ctx context.Context, taskID string, fn func(v1.ImportStatus)) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		done, err := c.watchOnce(ctx, taskID, fn)
		if done {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return err
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		logger.Warn("import stream disconnected", zap.String("task_id", taskID), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, taskID string, fn func(v1.ImportStatus)) (bool, error) {
	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()

	req, err := c.newRequest(reqCtx, http.MethodGet, "/v1/imports/"+url.PathEscape(taskID)+"/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	idle := c.IdleTimeout
	if idle <= 0 {
		idle = 45 * time.Second
	}
	// Watchdog for heartbeats
	lastActivity := time.Now().UnixNano()
	go func() {
		ticker := time.NewTicker(idle / 4)
		defer ticker.Stop()
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, atomic.LoadInt64(&lastActivity))) > idle {
					logger.Warn("import stream heartbeat timeout, reconnecting", zap.String("task_id", taskID))
					reqCancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data bytes.Buffer
	for scanner.Scan() {
		atomic.StoreInt64(&lastActivity, time.Now().UnixNano())
		line := scanner.Text()
		if line == "" {
			if eventType == "status" && data.Len() > 0 {
				var st v1.ImportStatus
				if err := json.Unmarshal(data.Bytes(), &st); err != nil {
					logger.Error("failed to decode status event", zap.Error(err))
				} else {
					fn(st)
					if st.Terminal() {
						return true, nil
					}
				}
			}
			eventType = ""
			data.Reset()
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, io.ErrUnexpectedEOF
}

// WebhookHandler verifies the signature of incoming webhook requests and
// passes decoded envelopes to fn. Requests with a bad signature get 401.
func WebhookHandler(secret string, fn func(v1.Envelope)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		if secret != "" && !v1.VerifySignature(secret, body, r.Header.Get(constraints.HeaderSignature)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, "invalid envelope", http.StatusBadRequest)
			return
		}
		fn(env)
		w.WriteHeader(http.StatusNoContent)
	})
}
