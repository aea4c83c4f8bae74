package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"spelld/internal/diag"
	"spelld/internal/settings"
	"spelld/internal/speller"
	"spelld/internal/speller/dictcache"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Stage1Delay     time.Duration
	InvalidateDelay time.Duration
	RevalidateDelay time.Duration
	Analyze         AnalyzeFunc
	Logger          *slog.Logger
}

// Server handles stdio JSON-RPC for the spelld language server. stdout
// carries only protocol traffic; all logging goes to the slog handler.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex
	log    *slog.Logger

	mu                sync.Mutex
	shutdownRequested bool

	resolver *settings.Resolver
	sched    *Scheduler
}

// NewServer constructs a server. With a nil Analyze the bundled spell checker
// is used, backed by the on-disk compiled-dictionary cache when available.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	analyzeFn := opts.Analyze
	if analyzeFn == nil {
		cache, err := dictcache.Open("spelld")
		if err != nil {
			logger.Info("dictionary cache unavailable", "err", err)
			cache = nil
		}
		checker := speller.NewChecker(speller.CheckerOptions{Cache: cache})
		analyzeFn = checker.Check
	}
	s := &Server{
		in:       bufio.NewReader(in),
		out:      bufio.NewWriter(out),
		log:      logger,
		resolver: settings.NewResolver(""),
	}
	s.sched = NewScheduler(SchedulerOptions{
		Stage1Delay:     opts.Stage1Delay,
		InvalidateDelay: opts.InvalidateDelay,
		RevalidateDelay: opts.RevalidateDelay,
		Analyze:         analyzeFn,
		LoadSettings:    s.resolver.Resolve,
		Publish:         s.publishDiagnostics,
		Logger:          logger,
	})
	return s
}

// Run serves LSP requests until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("spelld language server started")
	defer s.sched.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Error("failed to parse message", "err", err)
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		s.mu.Lock()
		requested := s.shutdownRequested
		s.mu.Unlock()
		if requested {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "spelld/registerConfigurationFile":
		return s.handleRegisterConfigurationFile(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, -32601, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, -32602, "invalid params")
		}
	}
	root := ""
	if params.RootURI != "" {
		root = uriToPath(params.RootURI)
	}
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	s.resolver.SetWorkspaceRoot(root)
	s.log.Info("initialized", "workspaceRoot", root)

	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    1,
				Save: saveOptions{
					IncludeText: true,
				},
			},
		},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.sched.Stop()
	s.sched.ClearAllPublished()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Error("didOpen: invalid params", "err", err)
		return nil
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		s.log.Error("didOpen: malformed uri", "uri", params.TextDocument.URI)
		return nil
	}
	s.sched.DocumentOpened(uri, params.TextDocument.Version, params.TextDocument.LanguageID, params.TextDocument.Text)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Error("didChange: invalid params", "err", err)
		return nil
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		s.log.Error("didChange: malformed uri", "uri", params.TextDocument.URI)
		return nil
	}
	base, _, _ := s.sched.DocumentText(uri)
	text := applyChanges(base, params.ContentChanges)
	s.sched.DocumentChanged(uri, params.TextDocument.Version, "", text)
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Error("didSave: invalid params", "err", err)
		return nil
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		s.log.Error("didSave: malformed uri", "uri", params.TextDocument.URI)
		return nil
	}
	s.sched.DocumentSaved(uri, params.Text)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Error("didClose: invalid params", "err", err)
		return nil
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		s.log.Error("didClose: malformed uri", "uri", params.TextDocument.URI)
		return nil
	}
	s.sched.DocumentClosed(uri)
	return nil
}

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	var params didChangeConfigurationParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.log.Error("didChangeConfiguration: invalid params", "err", err)
			params.Settings = nil
		}
	}
	if len(params.Settings) > 0 {
		var cs clientSettings
		if err := json.Unmarshal(params.Settings, &cs); err != nil {
			s.log.Error("didChangeConfiguration: invalid settings payload", "err", err)
		} else {
			s.resolver.SetClientOverlay(cs.Spelld)
		}
	}
	s.sched.ConfigurationChanged()
	return nil
}

func (s *Server) handleRegisterConfigurationFile(msg *rpcMessage) error {
	var params registerConfigurationFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Error("registerConfigurationFile: invalid params", "err", err)
		return nil
	}
	s.sched.RegisterConfigurationFile(params.Path)
	return nil
}

// publishDiagnostics is the scheduler's publish sink: it maps internal
// diagnostics to the wire shape and sends the notification.
func (s *Server) publishDiagnostics(uri string, version int, diags []diag.Diagnostic) {
	list := make([]lspDiagnostic, 0, len(diags))
	for _, d := range diags {
		list = append(list, lspDiagnostic{
			Range: lspRange{
				Start: position{Line: d.Range.Start.Line, Character: d.Range.Start.Character},
				End:   position{Line: d.Range.End.Line, Character: d.Range.End.Character},
			},
			Severity: d.Severity.LSPCode(),
			Code:     d.Rule,
			Source:   "spelld",
			Message:  d.Message,
		})
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: list,
		},
	}
	if err := s.send(msg); err != nil {
		s.log.Error("failed to publish diagnostics", "uri", uri, "err", err)
		return
	}
	s.log.Debug("published diagnostics", "uri", uri, "version", version, "diags", len(list))
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
