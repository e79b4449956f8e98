package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ymatsuda/tandem/internal/model"
)

// HTTPOptions configures one side of the networked transport. A role with
// ListenAddr set serves the wire endpoints; a role with PeerURL set can send.
// Setting both is valid (serve and send).
type HTTPOptions struct {
	ListenAddr string
	PeerURL    string
	// AuthToken, when non-empty, requires every inbound request except
	// /health to carry a matching Authorization: Bearer header.
	AuthToken string
	// Mode is reported by GET /health: "communication" or "execution".
	Mode    string
	Timeout time.Duration
}

// HTTP is the networked Transport: JSON bodies over POST /task, /callback,
// and /control. The wire boundary targets a private network, so CORS is
// permissive.
type HTTP struct {
	opts   HTTPOptions
	client *http.Client

	mu             sync.RWMutex
	taskHandler    TaskHandler
	messageHandler MessageHandler
	controlHandler ControlHandler

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

func NewHTTP(opts HTTPOptions) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = "communication"
	}
	return &HTTP{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (t *HTTP) RegisterTaskHandler(h TaskHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskHandler = h
}

func (t *HTTP) RegisterMessageHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = h
}

func (t *HTTP) RegisterControlHandler(h ControlHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controlHandler = h
}

// Start begins serving when ListenAddr is configured. A pure client side
// (no ListenAddr) starts trivially.
func (t *HTTP) Start() error {
	if t.opts.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /task", t.withWire(t.handleTask))
	mux.HandleFunc("POST /callback", t.withWire(t.handleCallback))
	mux.HandleFunc("POST /control", t.withWire(t.handleControl))
	mux.HandleFunc("GET /health", t.handleHealth)
	mux.HandleFunc("OPTIONS /", t.handlePreflight)

	listener, err := net.Listen("tcp", t.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.opts.ListenAddr, err)
	}
	t.listener = listener
	t.server = &http.Server{Handler: mux}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			// Serve errors after Stop are expected; others surface on Stop.
			_ = err
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" for a pure client.
func (t *HTTP) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Stop shuts the listener down gracefully.
func (t *HTTP) Stop(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	err := t.server.Shutdown(ctx)
	t.wg.Wait()
	return err
}

// withWire wraps an endpoint with CORS headers, auth, and panic recovery.
func (t *HTTP) withWire(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCORS(w)
		if !t.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"success": false,
					"error":   fmt.Sprintf("handler panic: %v", rec),
				})
			}
		}()
		next(w, r)
	}
}

func (t *HTTP) authorized(r *http.Request) bool {
	if t.opts.AuthToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+t.opts.AuthToken
}

func (t *HTTP) handleTask(w http.ResponseWriter, r *http.Request) {
	var req model.TaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t.mu.RLock()
	h := t.taskHandler
	t.mu.RUnlock()

	if h == nil {
		writeJSON(w, http.StatusInternalServerError,
			model.TaskResponse{Success: false, Error: errNoTaskHandler, TaskID: req.TaskID})
		return
	}
	writeJSON(w, http.StatusOK, h(r.Context(), req))
}

func (t *HTTP) handleCallback(w http.ResponseWriter, r *http.Request) {
	var msg model.MessageContent
	if !decodeBody(w, r, &msg) {
		return
	}

	t.mu.RLock()
	h := t.messageHandler
	t.mu.RUnlock()

	if h == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "no message handler registered",
		})
		return
	}
	if err := h(r.Context(), msg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (t *HTTP) handleControl(w http.ResponseWriter, r *http.Request) {
	var cmd model.ControlCommand
	if !decodeBody(w, r, &cmd) {
		return
	}

	t.mu.RLock()
	h := t.controlHandler
	t.mu.RUnlock()

	if h == nil {
		writeJSON(w, http.StatusInternalServerError,
			model.ControlResponse{Success: false, Error: errNoControlHandler, Type: cmd.Type})
		return
	}
	writeJSON(w, http.StatusOK, h(r.Context(), cmd))
}

func (t *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": t.opts.Mode})
}

func (t *HTTP) handlePreflight(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTP) SendTask(ctx context.Context, req model.TaskRequest) (model.TaskResponse, error) {
	var resp model.TaskResponse
	if err := t.post(ctx, "/task", req, &resp); err != nil {
		return model.TaskResponse{}, err
	}
	return resp, nil
}

func (t *HTTP) SendMessage(ctx context.Context, msg model.MessageContent) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := t.post(ctx, "/callback", msg, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("message delivery failed: %s", resp.Error)
	}
	return nil
}

func (t *HTTP) SendControl(ctx context.Context, cmd model.ControlCommand) (model.ControlResponse, error) {
	var resp model.ControlResponse
	if err := t.post(ctx, "/control", cmd, &resp); err != nil {
		return model.ControlResponse{}, err
	}
	return resp, nil
}

// post sends a JSON body to the peer and decodes the JSON response into out.
// The response body is decoded regardless of HTTP status: structured failure
// responses (including the 500 no-handler case) surface as values, matching
// the Local transport. Only transport-level failures return an error.
func (t *HTTP) post(ctx context.Context, path string, body, out any) error {
	if t.opts.PeerURL == "" {
		return fmt.Errorf("no peer URL configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.PeerURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.opts.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.opts.AuthToken)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s (status %d): %w", path, httpResp.StatusCode, err)
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err == nil {
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("invalid JSON body: %v", err),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

var _ Transport = (*HTTP)(nil)
