package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spelld/internal/speller"
)

// syncBuffer makes the server's output stream safe to inspect while timer
// goroutines are still publishing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func publishedMessages(t *testing.T, b *syncBuffer) []publishDiagnosticsParams {
	t.Helper()
	reader := bufio.NewReader(bytes.NewReader(b.bytes()))
	var out []publishDiagnosticsParams
	for {
		payload, err := readMessage(reader)
		if err != nil {
			if err == io.EOF {
				return out
			}
			return out
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Method != "textDocument/publishDiagnostics" {
			continue
		}
		var params publishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		out = append(out, params)
	}
}

func newTestServer(t *testing.T, out *syncBuffer) *Server {
	t.Helper()
	checker := speller.NewChecker(speller.CheckerOptions{})
	server := NewServer(bytes.NewReader(nil), out, ServerOptions{
		Stage1Delay:     5 * time.Millisecond,
		InvalidateDelay: 5 * time.Millisecond,
		RevalidateDelay: 5 * time.Millisecond,
		Analyze:         checker.Check,
		Logger:          quietLogger(),
	})
	t.Cleanup(server.sched.Stop)
	return server
}

func notify(t *testing.T, server *Server, method string, params any) {
	t.Helper()
	payload, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	if err := server.handleMessage(&rpcMessage{Method: method, Params: payload}); err != nil {
		t.Fatalf("%s: %v", method, err)
	}
}

func TestServerSpellCheckLifecycle(t *testing.T) {
	out := &syncBuffer{}
	server := newTestServer(t, out)

	// Enable checking before any document opens.
	enabled := true
	delay := 5
	notify(t, server, "workspace/didChangeConfiguration", didChangeConfigurationParams{
		Settings: mustRaw(t, map[string]any{
			"spelld": map[string]any{
				"enabled":           enabled,
				"spellCheckDelayMs": delay,
			},
		}),
	})

	path := filepath.Join(t.TempDir(), "a.txt")
	uri := pathToURI(path)
	notify(t, server, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{
			URI:        uri,
			LanguageID: "plaintext",
			Version:    1,
			Text:       "helo world",
		},
	})

	waitFor(t, 2*time.Second, "misspelling published", func() bool {
		msgs := publishedMessages(t, out)
		return len(msgs) > 0 && len(msgs[len(msgs)-1].Diagnostics) == 1
	})
	msgs := publishedMessages(t, out)
	got := msgs[len(msgs)-1]
	if got.URI != uri {
		t.Fatalf("expected uri %q, got %q", uri, got.URI)
	}
	d := got.Diagnostics[0]
	if d.Message != `Unknown word: "helo"` {
		t.Fatalf("unexpected message: %q", d.Message)
	}
	if d.Range.Start.Line != 0 || d.Range.Start.Character != 0 || d.Range.End.Character != 4 {
		t.Fatalf("unexpected range: %+v", d.Range)
	}
	if d.Source != "spelld" || d.Code != "unknown-word" {
		t.Fatalf("unexpected source/code: %q %q", d.Source, d.Code)
	}

	// Fixing the typo empties the diagnostics.
	notify(t, server, "textDocument/didChange", didChangeTextDocumentParams{
		TextDocument:   versionedTextDocumentIdentifier{URI: uri, Version: 2},
		ContentChanges: []textDocumentContentChangeEvent{{Text: "hello world"}},
	})
	waitFor(t, 2*time.Second, "clean publish", func() bool {
		msgs := publishedMessages(t, out)
		last := msgs[len(msgs)-1]
		return last.Version == 2 && len(last.Diagnostics) == 0
	})

	before := len(publishedMessages(t, out))
	notify(t, server, "textDocument/didClose", didCloseTextDocumentParams{
		TextDocument: textDocumentIdentifier{URI: uri},
	})
	waitFor(t, 2*time.Second, "close clear", func() bool {
		msgs := publishedMessages(t, out)
		if len(msgs) <= before {
			return false
		}
		last := msgs[len(msgs)-1]
		return len(last.Diagnostics) == 0
	})
}

func TestServerIncrementalChangeFallback(t *testing.T) {
	out := &syncBuffer{}
	server := newTestServer(t, out)

	notify(t, server, "workspace/didChangeConfiguration", didChangeConfigurationParams{
		Settings: mustRaw(t, map[string]any{
			"spelld": map[string]any{"enabled": true, "spellCheckDelayMs": 5},
		}),
	})

	path := filepath.Join(t.TempDir(), "b.txt")
	uri := pathToURI(path)
	notify(t, server, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{URI: uri, LanguageID: "plaintext", Version: 1, Text: "one\ntwo\n"},
	})
	// A ranged edit prepends "helo " to line one.
	notify(t, server, "textDocument/didChange", didChangeTextDocumentParams{
		TextDocument: versionedTextDocumentIdentifier{URI: uri, Version: 2},
		ContentChanges: []textDocumentContentChangeEvent{{
			Range: &lspRange{Start: position{0, 0}, End: position{0, 0}},
			Text:  "helo ",
		}},
	})
	waitFor(t, 2*time.Second, "ranged edit validated", func() bool {
		msgs := publishedMessages(t, out)
		if len(msgs) == 0 {
			return false
		}
		last := msgs[len(msgs)-1]
		return last.Version == 2 && len(last.Diagnostics) == 1
	})
}

func TestServerDropsMalformedEventsAndKeepsServing(t *testing.T) {
	out := &syncBuffer{}
	server := newTestServer(t, out)

	notify(t, server, "workspace/didChangeConfiguration", didChangeConfigurationParams{
		Settings: mustRaw(t, map[string]any{
			"spelld": map[string]any{"enabled": true, "spellCheckDelayMs": 5},
		}),
	})

	// Unparseable params.
	if err := server.handleMessage(&rpcMessage{
		Method: "textDocument/didOpen",
		Params: json.RawMessage(`{"textDocument":`),
	}); err != nil {
		t.Fatalf("malformed didOpen must not kill the loop: %v", err)
	}
	// Open without a usable uri.
	notify(t, server, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{URI: "", LanguageID: "plaintext", Version: 1, Text: "helo"},
	})

	// A valid open afterwards is served normally.
	path := filepath.Join(t.TempDir(), "ok.txt")
	uri := pathToURI(path)
	notify(t, server, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{URI: uri, LanguageID: "plaintext", Version: 1, Text: "helo world"},
	})
	waitFor(t, 2*time.Second, "valid open validated", func() bool {
		msgs := publishedMessages(t, out)
		return len(msgs) > 0 && len(msgs[len(msgs)-1].Diagnostics) == 1
	})

	// A change with a negative version is dropped without publishing.
	notify(t, server, "textDocument/didChange", didChangeTextDocumentParams{
		TextDocument:   versionedTextDocumentIdentifier{URI: uri, Version: -1},
		ContentChanges: []textDocumentContentChangeEvent{{Text: "hello world"}},
	})
	time.Sleep(100 * time.Millisecond)

	for _, msg := range publishedMessages(t, out) {
		if msg.URI != uri {
			t.Fatalf("publish for a dropped event: %+v", msg)
		}
	}
	msgs := publishedMessages(t, out)
	last := msgs[len(msgs)-1]
	if last.Version != 1 || len(last.Diagnostics) != 1 {
		t.Fatalf("dropped change altered published state: %+v", last)
	}
}

func TestServerUnknownRequestGetsMethodNotFound(t *testing.T) {
	out := &syncBuffer{}
	server := newTestServer(t, out)

	id := json.RawMessage(`7`)
	if err := server.handleMessage(&rpcMessage{ID: id, Method: "textDocument/hover"}); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	reader := bufio.NewReader(bytes.NewReader(out.bytes()))
	payload, err := readMessage(reader)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var msg rpcMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.Error == nil || msg.Error.Code != -32601 {
		t.Fatalf("expected method-not-found, got %+v", msg)
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
