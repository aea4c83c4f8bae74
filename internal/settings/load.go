package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// WorkspaceFileName is the per-workspace configuration file looked up next to
// the workspace root.
const WorkspaceFileName = "spelld.toml"

// ErrNotFound indicates a referenced configuration file does not exist.
var ErrNotFound = errors.New("settings file not found")

// LoadFile parses a TOML settings file into an overlay.
func LoadFile(path string) (Overlay, error) {
	var o Overlay
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Overlay{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return Overlay{}, fmt.Errorf("%s: %v", path, err)
	}
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return Overlay{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	return o, nil
}

// Resolver produces resolved snapshots by merging, in order: built-in
// defaults, the workspace spelld.toml, the client configuration payload, and
// any registered import files. Document directives are layered on afterwards
// by the caller, which owns the text.
type Resolver struct {
	mu            sync.Mutex
	workspaceRoot string
	client        Overlay
	hasClient     bool
}

// NewResolver constructs a resolver for the given workspace root. Root may be
// empty when the client opened no workspace folder.
func NewResolver(workspaceRoot string) *Resolver {
	return &Resolver{workspaceRoot: workspaceRoot}
}

// SetWorkspaceRoot updates the root used to locate spelld.toml.
func (r *Resolver) SetWorkspaceRoot(root string) {
	r.mu.Lock()
	r.workspaceRoot = root
	r.mu.Unlock()
}

// SetClientOverlay replaces the overlay received from the client via
// workspace/didChangeConfiguration.
func (r *Resolver) SetClientOverlay(o Overlay) {
	r.mu.Lock()
	r.client = o
	r.hasClient = true
	r.mu.Unlock()
}

// Resolve merges every configuration source into one snapshot. A file that
// fails to load aborts resolution with an error; the caller decides the
// fallback.
func (r *Resolver) Resolve(uri string, importPaths []string) (Settings, error) {
	r.mu.Lock()
	root := r.workspaceRoot
	client := r.client
	hasClient := r.hasClient
	r.mu.Unlock()

	out := Defaults()
	if root != "" {
		path := filepath.Join(root, WorkspaceFileName)
		o, err := LoadFile(path)
		switch {
		case errors.Is(err, ErrNotFound):
			// No workspace file is the common case.
		case err != nil:
			return Settings{}, err
		default:
			out = o.Apply(out)
		}
	}
	if hasClient {
		out = client.Apply(out)
	}
	for _, path := range importPaths {
		o, err := LoadFile(path)
		if err != nil {
			return Settings{}, err
		}
		out = o.Apply(out)
	}
	return out, nil
}
