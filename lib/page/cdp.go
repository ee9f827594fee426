package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// CDPDocument implements Document over a browser-level Chrome DevTools
// Protocol websocket. It attaches to the most eligible host page target,
// installs the in-page helper namespace, and relays mutation/media events
// delivered through a Runtime binding.
type CDPDocument struct {
	logger      *slog.Logger
	upstreamURL string
	patterns    []string

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[int64]chan callResult
	sessionID string
	targetID  string
	targetURL string
	gone      bool

	msgID atomic.Int64

	watchMu   sync.Mutex
	mutations map[string]chan struct{}
	media     map[string]chan MediaEvent

	stopCh chan struct{}
	done   chan struct{}
}

type callResult struct {
	result json.RawMessage
	err    error
}

type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const cdpCallTimeout = 10 * time.Second

// Dial connects to the browser-level CDP endpoint, attaches to the most
// eligible host page target and installs the helper namespace.
func Dial(ctx context.Context, upstreamURL string, hostPatterns []string, logger *slog.Logger) (*CDPDocument, error) {
	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, upstreamURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Host": []string{parsed.Host}},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to CDP: %w", err)
	}
	conn.SetReadLimit(32 * 1024 * 1024)

	d := &CDPDocument{
		logger:      logger,
		upstreamURL: upstreamURL,
		patterns:    hostPatterns,
		conn:        conn,
		pending:     make(map[int64]chan callResult),
		mutations:   make(map[string]chan struct{}),
		media:       make(map[string]chan MediaEvent),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	go d.readLoop(context.WithoutCancel(ctx))

	if _, err := d.call(ctx, "Target.setDiscoverTargets", map[string]bool{"discover": true}, ""); err != nil {
		d.Close()
		return nil, fmt.Errorf("enable target discovery: %w", err)
	}
	if err := d.attach(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close shuts the CDP connection down. Terminal.
func (d *CDPDocument) Close() {
	select {
	case <-d.stopCh:
		return
	default:
	}
	close(d.stopCh)

	d.mu.Lock()
	if d.conn != nil {
		_ = d.conn.Close(websocket.StatusNormalClosure, "document closing")
		d.conn = nil
	}
	d.mu.Unlock()
}

// Gone reports whether the attached target has been invalidated.
func (d *CDPDocument) Gone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone
}

// Status describes the CDP attachment for the status endpoint.
type Status struct {
	Attached  bool   `json:"attached"`
	TargetID  string `json:"targetId"`
	TargetURL string `json:"targetUrl"`
	Gone      bool   `json:"gone"`
}

func (d *CDPDocument) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Attached:  d.sessionID != "",
		TargetID:  d.targetID,
		TargetURL: d.targetURL,
		Gone:      d.gone,
	}
}

// --- attachment ---

// TargetInfo is the subset of CDP target metadata used for selection.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Attached bool   `json:"attached"`
}

// PickTarget selects the most eligible page target. Preference order: a
// host-matching page that looks like an active playback page (its URL carries
// a path beyond the host root), then any host-matching page. Returns false
// when no page matches, which the caller reports as "no target".
func PickTarget(targets []TargetInfo, hostPatterns []string) (TargetInfo, bool) {
	matches := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		for _, p := range hostPatterns {
			if strings.Contains(t.URL, p) {
				matches = append(matches, t)
				break
			}
		}
	}
	for _, t := range matches {
		if u, err := url.Parse(t.URL); err == nil && len(strings.Trim(u.Path, "/")) > 0 {
			return t, true
		}
	}
	if len(matches) > 0 {
		return matches[0], true
	}
	return TargetInfo{}, false
}

func (d *CDPDocument) attach(ctx context.Context) error {
	result, err := d.call(ctx, "Target.getTargets", nil, "")
	if err != nil {
		return fmt.Errorf("getTargets: %w", err)
	}
	var resp struct {
		TargetInfos []TargetInfo `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("unmarshal targets: %w", err)
	}

	target, ok := PickTarget(resp.TargetInfos, d.patterns)
	if !ok {
		return ErrNoTarget
	}

	attachResult, err := d.call(ctx, "Target.attachToTarget", map[string]any{
		"targetId": target.TargetID,
		"flatten":  true,
	}, "")
	if err != nil {
		return fmt.Errorf("attachToTarget: %w", err)
	}
	var attachResp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(attachResult, &attachResp); err != nil {
		return fmt.Errorf("unmarshal attach: %w", err)
	}
	if attachResp.SessionID == "" {
		return fmt.Errorf("no session id in attach response")
	}

	d.mu.Lock()
	d.sessionID = attachResp.SessionID
	d.targetID = target.TargetID
	d.targetURL = target.URL
	d.mu.Unlock()

	if err := d.setupSession(ctx, attachResp.SessionID); err != nil {
		return err
	}
	d.logger.Info("attached to page target", "targetId", target.TargetID, "url", target.URL)
	return nil
}

func (d *CDPDocument) setupSession(ctx context.Context, sessionID string) error {
	if _, err := d.call(ctx, "Runtime.addBinding", map[string]string{"name": bindingName}, sessionID); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	if _, err := d.call(ctx, "Runtime.enable", nil, sessionID); err != nil {
		return fmt.Errorf("enable Runtime: %w", err)
	}
	if _, err := d.call(ctx, "Page.enable", nil, sessionID); err != nil {
		return fmt.Errorf("enable Page: %w", err)
	}
	// Survive full navigations; soft SPA navigations keep the namespace alive.
	if _, err := d.call(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]string{"source": helperScript}, sessionID); err != nil {
		d.logger.Warn("failed to add script to new documents", "err", err)
	}
	return d.injectHelpers(ctx)
}

func (d *CDPDocument) injectHelpers(ctx context.Context) error {
	_, err := d.evalRaw(ctx, helperScript)
	return err
}

// --- protocol plumbing ---

func (d *CDPDocument) call(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return nil, ErrTargetGone
	}
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil, ErrTargetGone
	}

	id := d.msgID.Add(1)
	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}
	data, err := json.Marshal(cdpMessage{ID: id, Method: method, Params: paramsRaw, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal CDP message: %w", err)
	}

	resultCh := make(chan callResult, 1)
	d.mu.Lock()
	d.pending[id] = resultCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write CDP: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.result, res.err
	case <-time.After(cdpCallTimeout):
		return nil, fmt.Errorf("CDP call timed out: %s", method)
	case <-d.stopCh:
		return nil, ErrTargetGone
	}
}

func (d *CDPDocument) readLoop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-d.stopCh:
			default:
				d.logger.Error("CDP read error", "err", err)
				d.markGone()
			}
			return
		}

		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Error("CDP unmarshal error", "err", err)
			continue
		}

		if msg.ID > 0 {
			d.mu.Lock()
			ch, ok := d.pending[msg.ID]
			d.mu.Unlock()
			if ok {
				if msg.Error != nil {
					ch <- callResult{err: classifyCDPError(msg.Error)}
				} else {
					ch <- callResult{result: msg.Result}
				}
			}
			continue
		}

		d.handleEvent(ctx, msg)
	}
}

func (d *CDPDocument) handleEvent(ctx context.Context, msg cdpMessage) {
	switch msg.Method {
	case "Runtime.bindingCalled":
		var params struct {
			Name    string `json:"name"`
			Payload string `json:"payload"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		if msg.SessionID != d.currentSession() || params.Name != bindingName {
			return
		}
		d.dispatchBinding(params.Payload)

	case "Page.loadEventFired", "Page.frameNavigated":
		if msg.SessionID != d.currentSession() {
			return
		}
		// Fresh documents lose the helper namespace; reinstall shortly after.
		go func() {
			time.Sleep(25 * time.Millisecond)
			reinjectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := d.injectHelpers(reinjectCtx); err != nil {
				d.logger.Debug("helper reinject failed", "err", err)
			}
		}()

	case "Target.targetDestroyed":
		var params struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		d.mu.Lock()
		ours := params.TargetID == d.targetID
		d.mu.Unlock()
		if ours {
			d.logger.Info("page target destroyed")
			d.markGone()
		}

	case "Target.detachedFromTarget":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		if params.SessionID == d.currentSession() {
			d.logger.Info("detached from page target")
			d.markGone()
		}
	}
}

func (d *CDPDocument) currentSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// markGone flips the document into its terminal state and fails every
// pending call so no caller blocks on a dead target.
func (d *CDPDocument) markGone() {
	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return
	}
	d.gone = true
	pending := d.pending
	d.pending = make(map[int64]chan callResult)
	d.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- callResult{err: ErrTargetGone}:
		default:
		}
	}
}

func (d *CDPDocument) dispatchBinding(payload string) {
	var ev struct {
		Kind  string `json:"kind"`
		Root  string `json:"root"`
		ID    string `json:"id"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return
	}

	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	switch ev.Kind {
	case "mutation":
		if ch, ok := d.mutations[ev.Root]; ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case "media":
		if ch, ok := d.media[ev.ID]; ok {
			select {
			case ch <- MediaEvent(ev.Event):
			default:
			}
		}
	}
}

// classifyCDPError maps session/target-level failures to ErrTargetGone.
// Transient evaluation failures (e.g. a context destroyed mid-navigation)
// stay ordinary errors; callers swallow those and retry on the next pass.
func classifyCDPError(e *cdpError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "session with given id not found"),
		strings.Contains(msg, "no target with given id"),
		strings.Contains(msg, "target closed"),
		strings.Contains(msg, "inspected target navigated or closed"):
		return fmt.Errorf("%w: %s", ErrTargetGone, e.Message)
	}
	return fmt.Errorf("CDP error %d: %s", e.Code, e.Message)
}
