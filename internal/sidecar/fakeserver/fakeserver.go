// Package fakeserver is an in-process JSON-RPC test double for the
// agent co-process, implementing spec.md §4.4's method table over a
// Unix domain socket listener. It exists only for _test.go files in
// this module: production wiring always talks to the real external
// co-process, never to this package.
package fakeserver

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
)

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// Server is a minimal stand-in agent co-process: it accepts one
// connection at a time over a Unix domain socket and answers the
// subset of JSON-RPC methods tests exercise, tracking session state
// the same shape the real co-process would.
type Server struct {
	listener net.Listener

	mu       sync.Mutex
	sessions map[string]string // task id -> session id
	conn     net.Conn
	writer   *bufio.Writer

	// FailNextStart, when true, makes the next start_session call
	// return a session_already_exists error; used to test client-side
	// error decoding.
	FailNextStart bool
}

// Listen starts the fake server on a fresh Unix domain socket at path
// and begins serving in the background.
func Listen(path string) (*Server, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	s := &Server{listener: ln, sessions: make(map[string]string)}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the socket's filesystem path.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close shuts the listener (and any active connection) down.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.writer = bufio.NewWriter(conn)
		s.mu.Unlock()
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var req wireRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		s.handle(req)
	}
}

func (s *Server) handle(req wireRequest) {
	switch req.Method {
	case "start_session":
		s.handleStartSession(req)
	case "resume_session":
		s.respondOK(req, map[string]any{})
	case "send_prompt":
		s.handleSendPrompt(req)
	case "stop_session":
		s.handleStopSession(req)
	case "get_session":
		s.handleGetSession(req)
	case "list_sessions":
		s.respondOK(req, map[string]any{"sessions": s.listSessions()})
	case "summarize_title":
		s.handleSummarizeTitle(req)
	case "stop_all_sessions":
		s.mu.Lock()
		s.sessions = make(map[string]string)
		s.mu.Unlock()
		s.respondOK(req, map[string]any{})
	case "ping":
		s.respondOK(req, map[string]any{"ok": true})
	default:
		s.respondError(req, -32601, "method not found: "+req.Method)
	}
}

func (s *Server) handleStartSession(req wireRequest) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	if s.FailNextStart {
		s.FailNextStart = false
		s.mu.Unlock()
		s.respondError(req, -32001, "session already exists for task "+params.TaskID)
		return
	}
	sessionID := uuid.NewString()
	s.sessions[params.TaskID] = sessionID
	s.mu.Unlock()

	s.respondOK(req, map[string]any{"session_id": sessionID})
}

func (s *Server) handleStopSession(req wireRequest) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	_, ok := s.sessions[params.TaskID]
	delete(s.sessions, params.TaskID)
	s.mu.Unlock()

	if !ok {
		s.respondError(req, -32000, "no session for task "+params.TaskID)
		return
	}
	s.respondOK(req, map[string]any{})
}

func (s *Server) handleSendPrompt(req wireRequest) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	_, ok := s.sessions[params.TaskID]
	s.mu.Unlock()

	if !ok {
		s.respondError(req, -32000, "no session for task "+params.TaskID)
		return
	}
	s.respondOK(req, map[string]any{})
}

func (s *Server) handleGetSession(req wireRequest) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	sessionID, ok := s.sessions[params.TaskID]
	s.mu.Unlock()

	if !ok {
		s.respondError(req, -32000, "no session for task "+params.TaskID)
		return
	}
	s.respondOK(req, map[string]any{"session_id": sessionID, "active": true})
}

func (s *Server) handleSummarizeTitle(req wireRequest) {
	var params struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(req.Params, &params)
	s.respondOK(req, map[string]any{
		"short_title":  "Fix: " + params.Title,
		"abbreviation": "FIX",
		"spec":         "## Goal\n" + params.Title,
	})
}

func (s *Server) listSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for taskID := range s.sessions {
		out = append(out, taskID)
	}
	return out
}

func (s *Server) respondOK(req wireRequest, result map[string]any) {
	raw, _ := json.Marshal(result)
	s.writeLine(wireResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (s *Server) respondError(req wireRequest, code int, message string) {
	s.writeLine(wireResponse{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: code, Message: message}})
}

// PushSessionEvent sends a server-initiated session_event notification
// to the currently connected client, used by tests exercising the
// notification stream.
func (s *Server) PushSessionEvent(taskID, event, message string) {
	params, _ := json.Marshal(map[string]any{
		"task_id": taskID,
		"event":   event,
		"message": message,
	})
	s.writeLine(wireResponse{JSONRPC: "2.0", Method: "session_event", Params: params})
}

func (s *Server) writeLine(resp wireResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	_, _ = s.writer.Write(data)
	_ = s.writer.Flush()
}
