package rpcserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalridge/cruxe/internal/config"
	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/vcs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, reg *Registry) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()

	conns, err := NewConnManager(4, cfg.Storage.BusyTimeoutMs, cfg.Storage.CacheSize)
	require.NoError(t, err)
	t.Cleanup(conns.Close)

	logger := testLogger()
	router := NewRouter(RouterOptions{StorageRoot: cfg.Storage.DataDir}, cfg, vcs.NewGit(), logger)
	router.Register(&Workspace{
		Path: t.TempDir(), ProjectID: "test-project",
		DataDir: t.TempDir(), DefaultRef: "live", VCSMode: "live", IndexingStatus: "idle",
	})

	return NewServer(Options{
		Config:        cfg,
		Logger:        logger,
		Monitor:       health.New("test", extract.SupportedLanguages(), cfg.Index.Languages),
		VCS:           vcs.NewGit(),
		Extractor:     extract.NewRegexExtractor(),
		Registry:      reg,
		Router:        router,
		Conns:         conns,
		Sessions:      NewSessionRefs(),
		In:            strings.NewReader(""),
		Out:           io.Discard,
		ServerName:    "cruxe-test",
		ServerVersion: "0.0.0",
	})
}

func TestHandleMessageParseError(t *testing.T) {
	s := testServer(t, NewRegistry())
	resp := s.HandleMessage(context.Background(), []byte("{not json"))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)
}

func TestHandleMessageUnknownMethod(t *testing.T) {
	s := testServer(t, NewRegistry())
	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"nope/nothing"}`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestNotificationsGetNoResponse(t *testing.T) {
	s := testServer(t, NewRegistry())
	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, resp)
}

func TestInitializeDetectsProgressCapability(t *testing.T) {
	s := testServer(t, NewRegistry())
	resp := s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{"progress":true},"clientInfo":{"name":"agent-7"}}}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.IsType(t, &encoderNotifier{}, s.notifier)
	assert.Equal(t, "agent-7", s.sessionScope)

	resp = s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"clientInfo":{"name":"agent-7"}}}`))
	require.Nil(t, resp.Error)
	assert.IsType(t, nullNotifier{}, s.notifier)
}

func TestToolsListReflectsRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolEntry{Name: "alpha", Description: "a", InputSchema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
			return map[string]any{"ok": true}, nil
		}})
	reg.Register(ToolEntry{Name: "beta", Description: "b", InputSchema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
			return nil, cerrors.New(cerrors.CodeInvalidInput, "bad")
		}})

	s := testServer(t, reg)
	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.Nil(t, resp.Error)
	list, ok := resp.Result.(*ToolsListResult)
	require.True(t, ok)
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "alpha", list.Tools[0].Name)
}

func TestToolsCallFoldsToolErrorIntoResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolEntry{Name: "failing", Description: "", InputSchema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, *cerrors.ToolError) {
			return nil, cerrors.New(cerrors.CodeSymbolNotFound, "nope")
		}})

	s := testServer(t, reg)
	resp := s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"failing","arguments":{}}}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "tool errors travel inside a successful response")

	result, ok := resp.Result.(*ToolsCallResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)

	var payload struct {
		Error *cerrors.ToolError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	require.NotNil(t, payload.Error)
	assert.Equal(t, cerrors.CodeSymbolNotFound, payload.Error.Code)
}

func TestToolsCallUnknownTool(t *testing.T) {
	s := testServer(t, NewRegistry())
	resp := s.HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"missing","arguments":{}}}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestSessionRefPrecedence(t *testing.T) {
	refs := NewSessionRefs()
	refs.Set("scope-a", "proj-1", "/w", "feat/x")

	got, ok := refs.Get("scope-a", "proj-1", "/w")
	require.True(t, ok)
	assert.Equal(t, "feat/x", got)

	_, ok = refs.Get("scope-b", "proj-1", "/w")
	assert.False(t, ok, "overrides are scoped per session")

	refs.Clear("scope-a", "proj-1", "/w")
	_, ok = refs.Get("scope-a", "proj-1", "/w")
	assert.False(t, ok)
}

func TestResolveRefPrecedenceChain(t *testing.T) {
	s := testServer(t, NewRegistry())
	ws := s.opts.Router.Home()
	rc := &RequestContext{
		Workspace: ws,
		Session:   "sess",
		Config:    s.opts.Config,
		Logger:    testLogger(),
		VCS:       s.opts.VCS,
		conns:     s.opts.Conns,
		sessions:  s.opts.Sessions,
		router:    s.opts.Router,
	}

	// Explicit argument wins over everything.
	assert.Equal(t, "feat/arg", rc.ResolveRef(context.Background(), "feat/arg"))

	// Session override beats the default ref.
	rc.SetSessionRef("feat/session")
	assert.Equal(t, "feat/session", rc.ResolveRef(context.Background(), ""))

	// With no override, the project default applies (live workspace has
	// no VCS HEAD to consult).
	s.opts.Sessions.Clear("sess", ws.ProjectID, ws.Path)
	assert.Equal(t, "live", rc.ResolveRef(context.Background(), ""))
}
