// Package rpcserver: see types.go for the wire contract. This file holds
// the stdio read loop and dispatch.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/signalridge/cruxe/internal/config"
	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/vcs"
)

// ProtocolVersion is the codecompass_protocol_version attached to every
// tool response's metadata.
const ProtocolVersion = "1.0"

// ProgressNotifier emits notifications/progress frames when the client
// declared the capability at initialize time; the null implementation is
// used otherwise.
type ProgressNotifier interface {
	Notify(token string, progress, total float64, message string)
}

type nullNotifier struct{}

func (nullNotifier) Notify(string, float64, float64, string) {}

type encoderNotifier struct {
	mu  *sync.Mutex
	enc *json.Encoder
}

func (n *encoderNotifier) Notify(token string, progress, total float64, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_ = n.enc.Encode(&ProgressNotification{
		JSONRPC: "2.0",
		Method:  "notifications/progress",
		Params:  ProgressParams{ProgressToken: token, Progress: progress, Total: total, Message: message},
	})
}

// Options wires a Server's collaborators and transport.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Monitor   *health.Monitor
	VCS       vcs.Adapter
	Extractor extract.Extractor
	Registry  *Registry
	Router    *Router
	Conns     *ConnManager
	Sessions  *SessionRefs

	In  io.Reader
	Out io.Writer

	ServerName    string
	ServerVersion string
}

// Server is the C11 dispatcher: one cooperative request loop over
// newline-delimited JSON-RPC 2.0 on stdio, with workspace routing, a
// shared connection manager, per-session ref overrides, and cooperative
// background prewarm.
type Server struct {
	opts Options

	outMu    sync.Mutex
	enc      *json.Encoder
	notifier ProgressNotifier

	// sessionScope identifies the connected client for the per-session
	// ref override map; set from clientInfo at initialize time.
	sessionScope string
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, sessionScope: "default"}
	s.enc = json.NewEncoder(opts.Out)
	s.notifier = nullNotifier{}
	return s
}

// Run performs startup recovery, then reads requests until In closes or
// ctx is cancelled. Each request is processed synchronously in the caller
// thread; parallelism stays scoped and explicit (overlay merge, prewarm,
// indexer subprocesses).
func (s *Server) Run(ctx context.Context) error {
	if err := s.startupRecovery(ctx); err != nil {
		s.opts.Logger.Warn("startup recovery failed", "error", err)
	}

	scanner := bufio.NewScanner(s.opts.In)
	scanner.Buffer(make([]byte, 0, 1<<20), 10<<20)

	s.opts.Logger.Info("cruxe server started", "name", s.opts.ServerName, "version", s.opts.ServerVersion)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if resp := s.HandleMessage(ctx, line); resp != nil {
			s.outMu.Lock()
			err := s.enc.Encode(resp)
			s.outMu.Unlock()
			if err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading stdin: %w", err)
	}
	s.opts.Logger.Info("cruxe server stopped (stdin closed)")
	return nil
}

// startupRecovery flips any stale queued/running/validating jobs to
// interrupted on the home workspace's store and records them for
// health_check's interrupted_recovery_report.
func (s *Server) startupRecovery(ctx context.Context) error {
	home := s.opts.Router.Home()
	if home == nil {
		return nil
	}
	handle, err := s.opts.Conns.Acquire(ctx, storage.DBPath(home.DataDir))
	if err != nil {
		return err
	}
	defer handle.Release()

	jobs, err := handle.Store().MarkInterruptedJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		report := make([]health.InterruptedJob, 0, len(jobs))
		for _, j := range jobs {
			report = append(report, health.InterruptedJob{JobID: j.JobID, ProjectID: j.ProjectID, Ref: j.Ref})
		}
		s.opts.Monitor.RecordInterrupted(report)
		s.opts.Logger.Info("recovered interrupted jobs", "count", len(jobs))
	}
	return nil
}

// HandleMessage parses one frame and dispatches it. Exported so tests can
// drive the dispatcher without a stdio pipe.
func (s *Server) HandleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: ErrCodeParse, Message: "Parse error", Data: err.Error()},
		}
	}

	// Notifications (no id) never get a response.
	if req.ID == nil {
		if req.Method == "notifications/initialized" {
			s.opts.Logger.Debug("client initialized")
		}
		return nil
	}

	result, rpcErr := s.dispatch(ctx, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	start := time.Now()
	switch req.Method {
	case "initialize":
		defer getMetrics().recordRequest(ctx, req.Method, "", start)
		return s.handleInitialize(req.Params)
	case "tools/list":
		defer getMetrics().recordRequest(ctx, req.Method, "", start)
		return &ToolsListResult{Tools: s.opts.Registry.List()}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params, start)
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}
		}
	}
	if p.ClientInfo.Name != "" {
		s.sessionScope = p.ClientInfo.Name
	}
	if p.Capabilities.Progress {
		s.notifier = &encoderNotifier{mu: &s.outMu, enc: s.enc}
	} else {
		s.notifier = nullNotifier{}
	}
	return &InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    ServerCapability{Tools: &ToolsCapability{ListChanged: false}},
		ServerInfo:      ServerInfo{Name: s.opts.ServerName, Version: s.opts.ServerVersion},
	}, nil
}

// commonArgs is the slice of tool arguments the dispatcher itself consumes
// before the handler sees them: workspace routing, session ref overrides,
// and the progress correlation token.
type commonArgs struct {
	Workspace     string `json:"workspace"`
	SessionRef    string `json:"session_ref"`
	ProgressToken string `json:"progress_token"`
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage, start time.Time) (any, *RPCError) {
	var call ToolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params", Data: err.Error()}
	}
	defer getMetrics().recordRequest(ctx, "tools/call", call.Name, start)

	entry := s.opts.Registry.Get(call.Name)
	if entry == nil {
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	var common commonArgs
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &common)
	}

	ws, terr := s.opts.Router.Resolve(ctx, common.Workspace)
	if terr != nil {
		return s.toolErrorResult(ctx, call.Name, terr, nil)
	}

	s.refreshIndexingStatus(ctx, ws)
	if ws.IndexingStatus == "indexing" && !entry.StatusTool {
		payload := map[string]any{
			"status":   "indexing",
			"message":  "workspace is still being indexed; retry shortly or call index_status",
			"metadata": s.placeholderMetadata(ws),
		}
		r, err := JSONResult(payload)
		if err != nil {
			return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
		}
		return r, nil
	}

	handle, err := s.opts.Conns.Acquire(ctx, storage.DBPath(ws.DataDir))
	if err != nil {
		return s.toolErrorResult(ctx, call.Name, cerrors.AsToolError(err), ws)
	}
	defer handle.Release()

	rc := &RequestContext{
		Workspace:     ws,
		Session:       s.sessionScope,
		ProgressToken: common.ProgressToken,
		Config:    s.opts.Config,
		Logger:    s.opts.Logger.With("tool", call.Name),
		Monitor:   s.opts.Monitor,
		VCS:       s.opts.VCS,
		Extractor: s.opts.Extractor,
		Notifier:  s.notifier,
		conns:     s.opts.Conns,
		sessions:  s.opts.Sessions,
		router:    s.opts.Router,
		handle:    handle,
	}
	if common.SessionRef != "" {
		rc.SetSessionRef(common.SessionRef)
	}

	payload, toolErr := entry.Handler(ctx, rc, call.Arguments)
	if toolErr != nil {
		return s.toolErrorResult(ctx, call.Name, toolErr, ws)
	}
	r, merr := JSONResult(payload)
	if merr != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: merr.Error()}
	}
	return r, nil
}

// refreshIndexingStatus flips a bootstrapping workspace to idle once its
// initial index job has left the active set.
func (s *Server) refreshIndexingStatus(ctx context.Context, ws *Workspace) {
	if ws.IndexingStatus != "indexing" {
		return
	}
	handle, err := s.opts.Conns.Acquire(ctx, storage.DBPath(ws.DataDir))
	if err != nil {
		return
	}
	defer handle.Release()
	if _, err := handle.Store().GetActiveJobForRef(ctx, ws.ProjectID, ws.DefaultRef); cerrors.IsNotFound(err) {
		ws.IndexingStatus = "idle"
		_ = handle.Store().SetWorkspaceIndexStatus(ctx, ws.Path, "idle")
	}
}

// toolErrorResult folds a ToolError into the successful-response payload
// shape of the protocol contract: {error:{code,message,data?}, metadata}.
func (s *Server) toolErrorResult(ctx context.Context, tool string, te *cerrors.ToolError, ws *Workspace) (any, *RPCError) {
	getMetrics().recordToolError(ctx, tool, string(te.Code))
	payload := map[string]any{
		"error":    te,
		"metadata": s.placeholderMetadata(ws),
	}
	r, err := JSONResult(payload)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	return r, nil
}

// placeholderMetadata is the minimal metadata block attached when no
// handler ran far enough to build a full one.
func (s *Server) placeholderMetadata(ws *Workspace) map[string]any {
	md := map[string]any{
		"codecompass_protocol_version": ProtocolVersion,
		"freshness_status":             "fresh",
		"indexing_status":              "idle",
		"result_completeness":          "complete",
		"schema_status":                "ok",
	}
	if ws != nil {
		md["indexing_status"] = ws.IndexingStatus
		md["ref"] = ws.DefaultRef
	}
	return md
}
