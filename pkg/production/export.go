package production

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"takeforge/pkg/audio"
	"takeforge/pkg/model"
	"takeforge/pkg/store"
)

// ExportOptions configures one export run.
type ExportOptions struct {
	// Destination directory; empty defaults to <export dir>/<session id>.
	Destination string `json:"destination,omitempty"`
	// Combine additionally concatenates the exported takes into one
	// combined file, in script order.
	Combine bool `json:"combine,omitempty"`
}

// Exporter assembles the selected takes of a session into a delivery
// directory, one file per beat, named by beat id.
type Exporter struct {
	store      store.Store
	tool       audio.Toolchain
	defaultDir string
}

// NewExporter creates an Exporter rooted at defaultDir.
func NewExporter(st store.Store, tool audio.Toolchain, defaultDir string) *Exporter {
	return &Exporter{store: st, tool: tool, defaultDir: defaultDir}
}

// Export copies each beat's selected take to the destination as
// <beatID><ext>, in script order. Beats without a selected take are
// skipped. On success the session moves to exported.
func (e *Exporter) Export(ctx context.Context, sessionID string, opts ExportOptions) ([]string, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	dest := opts.Destination
	if dest == "" {
		dest = filepath.Join(e.defaultDir, sessionID)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	var files []string
	for i := range session.Beats {
		beat := &session.Beats[i]
		take := selectedTake(beat)
		if take == nil {
			slog.Info("Skipping beat without selected take", "session", sessionID, "beat", beat.ID)
			continue
		}

		out := filepath.Join(dest, beat.ID+filepath.Ext(take.Path))
		if err := copyFile(take.Path, out); err != nil {
			return nil, fmt.Errorf("failed to export beat %s: %w", beat.ID, err)
		}
		files = append(files, out)
	}

	if opts.Combine && len(files) > 0 {
		combined := filepath.Join(dest, sessionID+filepath.Ext(files[0]))
		if err := e.tool.Concatenate(ctx, files, combined); err != nil {
			return nil, fmt.Errorf("failed to build combined file: %w", err)
		}
		files = append(files, combined)
	}

	if err := e.store.UpdateSessionStatus(ctx, sessionID, model.StatusExported); err != nil {
		return files, err
	}

	slog.Info("Session exported", "session", sessionID, "files", len(files), "destination", dest)
	return files, nil
}

func selectedTake(beat *model.Beat) *model.Take {
	for i := range beat.Takes {
		if beat.Takes[i].IsSelected {
			return &beat.Takes[i]
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
