package rga

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/metrics"
)

// ScratchPrefix starts the name of every scratch directory.
const ScratchPrefix = "TMP_"

// removeAll is swapped in tests to simulate a locked workspace.
var removeAll = os.RemoveAll

// ScratchWorkspace is the private directory tree rga writes into.
type ScratchWorkspace struct {
	ID       string
	Root     string
	Analysis string
	ISA      string
	CFG      string
	// Sources receives intermediate SPIR-V produced by a Frontend.
	Sources string
}

// ScratchOptions configures WithScratchWorkspace.
type ScratchOptions struct {
	// ID names the workspace; a fresh uuid is used when empty.
	ID      string
	Logger  *logx.Logger
	Metrics metrics.Recorder
}

// WithScratchWorkspace creates <parent>/TMP_<id>/{analysis,isa,cfg,src}, runs fn
// and removes the tree afterwards, on every path including panics. A removal
// failure is logged and counted; it never replaces fn's error.
func WithScratchWorkspace(parent string, opts ScratchOptions, fn func(ws *ScratchWorkspace) error) error {
	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("scratch")
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Nop()
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	root := filepath.Join(parent, ScratchPrefix+id)
	ws := &ScratchWorkspace{
		ID:       id,
		Root:     root,
		Analysis: filepath.Join(root, "analysis"),
		ISA:      filepath.Join(root, "isa"),
		CFG:      filepath.Join(root, "cfg"),
		Sources:  filepath.Join(root, "src"),
	}

	if err := os.Mkdir(root, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch workspace: %w", err)
	}

	defer func() {
		logger.Debug("Cleaning up scratch workspace: %s", root)
		if err := removeAll(root); err != nil {
			logger.Warn("Failed to clean up scratch workspace %s: %v", root, err)
			recorder.IncCleanupFailure()
		}
	}()

	for _, dir := range []string{ws.Analysis, ws.ISA, ws.CFG, ws.Sources} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
		}
	}

	return fn(ws)
}
