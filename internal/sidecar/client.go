package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/logging"
)

const (
	defaultCallTimeout  = 30 * time.Second
	pingCallTimeout     = 3 * time.Second
	summarizeTimeout    = 90 * time.Second
	maxLineBytes        = 16 * 1024 * 1024
	initialBackoff      = 200 * time.Millisecond
	maxBackoff          = 10 * time.Second
	notificationBufSize = 256
)

// callTimeout returns the per-method budget, per spec.md §5: ping
// must fail fast so the health poller stays responsive, while
// summarize_title can legitimately take a while to think.
func callTimeout(method string) time.Duration {
	switch method {
	case MethodPing:
		return pingCallTimeout
	case MethodSummarizeTitle:
		return summarizeTimeout
	default:
		return defaultCallTimeout
	}
}

// pendingCall is a request awaiting a correlated response.
type pendingCall struct {
	resultCh chan envelope
}

// Client is a JSON-RPC 2.0 client talking to the agent co-process over
// a Unix domain socket, one line per message. It reconnects with
// exponential backoff on disconnect; in-flight requests at the moment
// of disconnect fail immediately rather than being reissued, per
// spec.md §4.4 (the orchestrator reconciles state via list_sessions
// after reconnecting).
type Client struct {
	socketPath string
	logger     *logging.Logger

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	closed  bool
	pending map[string]*pendingCall

	nextID int64

	notifications chan core.SessionEvent

	connectedOnce chan struct{}
	connectedSet  int32
}

// New dials socketPath and starts the read/reconnect loop in the
// background. It returns immediately even if the initial dial fails;
// the background loop keeps retrying with backoff.
func New(ctx context.Context, socketPath string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		socketPath:    socketPath,
		logger:        logger,
		pending:       make(map[string]*pendingCall),
		notifications: make(chan core.SessionEvent, notificationBufSize),
		connectedOnce: make(chan struct{}),
	}
	go c.connectLoop(ctx)
	return c
}

var _ core.CoprocessClient = (*Client)(nil)

// WaitConnected blocks until the first successful dial or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connectedOnce:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connectLoop(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := net.Dial("unix", c.socketPath)
		if err != nil {
			c.logger.Warn("sidecar dial failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.mu.Lock()
		c.conn = conn
		c.writer = bufio.NewWriter(conn)
		c.mu.Unlock()

		// A CAS that fails here means this dial is a reconnect, not the
		// first connection: tell the orchestrator to reconcile via the
		// same notification channel session events ride on.
		reconnected := !c.markConnectedOnce()
		if reconnected {
			c.notifyReconnected()
		}

		c.readLoop(ctx, conn)

		// readLoop returned: connection lost. Clear the stale conn/writer
		// so call() sees "disconnected" rather than writing into a dead
		// socket, then fail all pending calls and loop around to redial.
		c.mu.Lock()
		c.conn = nil
		c.writer = nil
		c.mu.Unlock()
		c.failAllPending(fmt.Errorf("sidecar connection lost"))

		if ctx.Err() != nil {
			return
		}
	}
}

// markConnectedOnce closes connectedOnce the first time it's called
// and reports whether this call was the one that did it.
func (c *Client) markConnectedOnce() bool {
	if atomic.CompareAndSwapInt32(&c.connectedSet, 0, 1) {
		close(c.connectedOnce)
		return true
	}
	return false
}

// notifyReconnected pushes a synthetic SessionEventReconnected onto
// the notification stream so the orchestrator's existing listener
// picks it up without a dedicated port method.
func (c *Client) notifyReconnected() {
	select {
	case c.notifications <- core.SessionEvent{Event: core.SessionEventReconnected}:
	default:
		c.logger.Warn("sidecar notification channel full, dropping reconnect event")
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// readLoop scans newline-delimited JSON messages off conn, dispatching
// responses to their waiting caller and notifications to the
// Notifications channel. It returns when the connection is closed or
// errors, adapted from the scan-skip-malformed-log idiom used for
// reading line-delimited agent transcripts elsewhere in the pack.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Warn("sidecar received malformed line", "error", err)
			continue
		}

		switch {
		case env.isNotification():
			c.dispatchNotification(env)
		case env.isResponse():
			c.dispatchResponse(env)
		}
	}

	_ = conn.Close()
}

func (c *Client) dispatchResponse(env envelope) {
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	call.resultCh <- env
}

func (c *Client) dispatchNotification(env envelope) {
	if env.Method != "session_event" {
		c.logger.Debug("sidecar ignoring unknown notification", "method", env.Method)
		return
	}
	var payload sessionEventNotification
	if err := json.Unmarshal(env.Params, &payload); err != nil {
		c.logger.Warn("sidecar malformed session_event notification", "error", err)
		return
	}

	ev := core.SessionEvent{
		TaskID:     core.TaskID{},
		Event:      core.SessionEventType(payload.Event),
		SessionID:  payload.SessionID,
		Message:    payload.Message,
		ToolName:   payload.ToolName,
		Output:     payload.Output,
		FullOutput: payload.FullOutput,
		CostUSD:    payload.CostUSD,
		Usage:      payload.Usage,
	}
	if parsed, err := core.ParseTaskID(payload.TaskID); err == nil {
		ev.TaskID = parsed
	}

	select {
	case c.notifications <- ev:
	default:
		c.logger.Warn("sidecar notification channel full, dropping event", "task_id", payload.TaskID, "event", payload.Event)
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for id, call := range pending {
		call.resultCh <- envelope{
			ID:    id,
			Error: &rpcError{Code: CodeInternalError, Message: err.Error()},
		}
	}
}

// Notifications returns the channel of server-initiated session
// events.
func (c *Client) Notifications() <-chan core.SessionEvent { return c.notifications }

// Close stops reconnect attempts and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call sends a JSON-RPC request and waits for its correlated response,
// translating a JSON-RPC error object into a *core.DomainError.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrExecution("SIDECAR_CLOSED", "co-process client is closed")
	}
	writer := c.writer
	if writer == nil {
		c.mu.Unlock()
		return nil, core.ErrExecution("SIDECAR_DISCONNECTED", "co-process is not connected")
	}

	id := strconv64(atomic.AddInt64(&c.nextID, 1))
	call := &pendingCall{resultCh: make(chan envelope, 1)}
	c.pending[id] = call
	c.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, core.ErrInternal("SIDECAR_ENCODE_FAILED", "could not encode request params").WithCause(err)
		}
		raw = encoded
	}

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, core.ErrInternal("SIDECAR_ENCODE_FAILED", "could not encode request").WithCause(err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	if c.closed || c.writer == nil {
		c.mu.Unlock()
		c.removePending(id)
		return nil, core.ErrExecution("SIDECAR_DISCONNECTED", "co-process is not connected")
	}
	_, writeErr := c.writer.Write(line)
	if writeErr == nil {
		writeErr = c.writer.Flush()
	}
	c.mu.Unlock()
	if writeErr != nil {
		c.removePending(id)
		return nil, core.ErrExecution("SIDECAR_WRITE_FAILED", "could not write request").WithCause(writeErr)
	}

	timeout := callTimeout(method)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.resultCh:
		if resp.Error != nil {
			return nil, decodeRPCError(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.removePending(id)
		return nil, core.ErrTimeout("co-process call canceled: " + ctx.Err().Error())
	case <-timer.C:
		c.removePending(id)
		return nil, core.ErrTimeout(fmt.Sprintf("co-process call %q timed out after %s", method, timeout))
	}
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func strconv64(v int64) string {
	return fmt.Sprintf("%d", v)
}

// decodeRPCError maps a JSON-RPC error object's code to the matching
// core.DomainError category, per spec.md §6.
func decodeRPCError(e *rpcError) *core.DomainError {
	switch e.Code {
	case CodeSessionNotFound:
		return &core.DomainError{Category: core.ErrCatNotFound, Code: core.CodeSessionNotFound, Message: e.Message}
	case CodeSessionAlreadyExists:
		return core.ErrConflict("SESSION_ALREADY_EXISTS", e.Message)
	case CodeInvalidParams, CodeInvalidRequest, CodeParseError:
		return core.ErrValidation("SIDECAR_INVALID_REQUEST", e.Message)
	case CodeMethodNotFound:
		return core.ErrInternal("SIDECAR_METHOD_NOT_FOUND", e.Message)
	case CodeSdkError:
		return core.ErrExecution("SIDECAR_SDK_ERROR", e.Message)
	default:
		return core.ErrInternal("SIDECAR_INTERNAL_ERROR", e.Message)
	}
}

// StartSession asks the co-process to start a new agent session for
// task in its worktree, returning the co-process's session id.
func (c *Client) StartSession(ctx context.Context, taskID core.TaskID, prompt string) (string, error) {
	result, err := c.call(ctx, MethodStartSession, startSessionParams{
		TaskID: taskID.String(),
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	var res startSessionResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", core.ErrInternal("SIDECAR_DECODE_FAILED", "could not decode start_session result").WithCause(err)
	}
	return res.SessionID, nil
}

// StopSession asks the co-process to terminate a task's session.
func (c *Client) StopSession(ctx context.Context, taskID core.TaskID) error {
	_, err := c.call(ctx, MethodStopSession, taskIDParams{TaskID: taskID.String()})
	return err
}

// ResumeSession asks the co-process to continue an existing session
// with a new prompt (e.g. a QA retry directive).
func (c *Client) ResumeSession(ctx context.Context, taskID core.TaskID, prompt string) error {
	_, err := c.call(ctx, MethodResumeSession, startSessionParams{
		TaskID: taskID.String(),
		Prompt: prompt,
	})
	return err
}

// SendPrompt injects an additional prompt into a task's already-
// active session, without the start-if-absent semantics of
// ResumeSession.
func (c *Client) SendPrompt(ctx context.Context, taskID core.TaskID, prompt string) error {
	_, err := c.call(ctx, MethodSendPrompt, sendPromptParams{
		TaskID: taskID.String(),
		Prompt: prompt,
	})
	return err
}

// GetSession reports whether the co-process still holds a live
// session for taskID.
func (c *Client) GetSession(ctx context.Context, taskID core.TaskID) (string, bool, error) {
	result, err := c.call(ctx, MethodGetSession, taskIDParams{TaskID: taskID.String()})
	if err != nil {
		return "", false, err
	}
	var res getSessionResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", false, core.ErrInternal("SIDECAR_DECODE_FAILED", "could not decode get_session result").WithCause(err)
	}
	return res.SessionID, res.Active, nil
}

// ListSessions returns every task id the co-process currently holds a
// live session for. Ids it cannot parse (a build mismatch, a session
// the orchestrator never started) are skipped rather than failing the
// whole call, since one bad id shouldn't block reconciling the rest.
func (c *Client) ListSessions(ctx context.Context) ([]core.TaskID, error) {
	result, err := c.call(ctx, MethodListSessions, nil)
	if err != nil {
		return nil, err
	}
	var res listSessionsResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, core.ErrInternal("SIDECAR_DECODE_FAILED", "could not decode list_sessions result").WithCause(err)
	}
	ids := make([]core.TaskID, 0, len(res.Sessions))
	for _, raw := range res.Sessions {
		id, err := core.ParseTaskID(raw)
		if err != nil {
			c.logger.Warn("sidecar list_sessions returned unparseable task id", "raw", raw, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SummarizeTitle asks the co-process to derive a short title,
// abbreviation, and working spec from a task description.
func (c *Client) SummarizeTitle(ctx context.Context, taskID core.TaskID, description string) (title, abbreviation, spec string, err error) {
	result, callErr := c.call(ctx, MethodSummarizeTitle, summarizeTitleParams{
		TaskID: taskID.String(),
		Title:  description,
	})
	if callErr != nil {
		return "", "", "", callErr
	}
	var res summarizeTitleResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", "", "", core.ErrInternal("SIDECAR_DECODE_FAILED", "could not decode summarize_title result").WithCause(err)
	}
	return res.ShortTitle, res.Abbreviation, res.Spec, nil
}

// Ping checks co-process liveness directly, bypassing socket-level
// reconnect detection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, nil)
	return err
}

// StopAllSessions asks the co-process to terminate every active
// session, used on orchestrator shutdown.
func (c *Client) StopAllSessions(ctx context.Context) error {
	_, err := c.call(ctx, MethodStopAllSessions, nil)
	return err
}
