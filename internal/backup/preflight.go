package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/stacksnap/snapferry/internal/domain"
)

// lowFreeSpace is the free space below which a database dump, whose size is
// not known up front, draws a warning.
const lowFreeSpace = 1 << 30

func statfsAvailable(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// treeSize sums the regular files under root.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

type PreflightWarning struct {
	Severity string
	Message  string
	Fix      string
}

type PreflightResult struct {
	Warnings   []PreflightWarning
	CanProceed bool
	err        error
}

// Err returns the first blocking problem, or nil when the backup can go ahead.
func (r *PreflightResult) Err() error {
	if r.CanProceed {
		return nil
	}
	return r.err
}

func (r *PreflightResult) block(err *domain.Error, fix string) {
	r.Warnings = append(r.Warnings, PreflightWarning{Severity: "error", Message: err.Err.Error(), Fix: fix})
	if r.CanProceed {
		r.err = err.WithSuggestion(fix)
	}
	r.CanProceed = false
}

// Preflight checks what a backup needs before any work starts: the source
// folder, the dump tool and room in the workspace.
func (s *Service) Preflight(ctx context.Context, opts BackupOptions) *PreflightResult {
	result := &PreflightResult{CanProceed: true}

	switch opts.Kind {
	case domain.KindFolder:
		if opts.Folder == "" {
			result.block(domain.Configuration("preflight", errors.New("no folder given")), "pass the folder to back up")
			break
		}
		info, err := os.Stat(opts.Folder)
		switch {
		case err != nil:
			result.block(domain.NotFound("preflight", fmt.Errorf("folder %s: %w", opts.Folder, err)), "verify the folder path is correct")
		case !info.IsDir():
			result.block(domain.Configuration("preflight", fmt.Errorf("%s is not a directory", opts.Folder)), "pass a directory, not a file")
		}
	case domain.KindMongoDB, domain.KindMySQL:
		tool := "mongodump"
		if opts.Kind == domain.KindMySQL {
			tool = "mysqldump"
		}
		if err := s.runner.Available(ctx, tool); err != nil {
			var de *domain.Error
			if !errors.As(err, &de) {
				de = domain.Collaborator("preflight", err)
			}
			fix := de.Suggestion
			if fix == "" {
				fix = "make " + tool + " available or change TOOLS_RUNNER"
			}
			result.block(de, fix)
		}
	}

	if result.CanProceed {
		s.checkFreeSpace(opts, result)
	}

	for _, w := range result.Warnings {
		if w.Severity != "error" {
			s.log.Warn().Str("fix", w.Fix).Msg(w.Message)
		}
	}
	return result
}

// checkFreeSpace compares the workspace filesystem against what the backup
// will stage there. A folder backup holds a copy of the tree plus its
// archive, so it needs about twice the tree size; dumps only get a warning.
func (s *Service) checkFreeSpace(opts BackupOptions, result *PreflightResult) {
	dir := s.cfg.Archive.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	available, err := s.freeSpace(dir)
	if err != nil {
		s.log.Debug().Err(err).Str("dir", dir).Msg("free space check skipped")
		return
	}

	if opts.Kind == domain.KindFolder {
		size, err := treeSize(opts.Folder)
		if err != nil {
			s.log.Debug().Err(err).Str("folder", opts.Folder).Msg("folder size estimate skipped")
			return
		}
		if need := 2 * size; available < need {
			result.block(domain.Configuration("preflight", fmt.Errorf("backup of %s needs about %s, only %s free in %s",
				opts.Folder, humanizeBytes(need), humanizeBytes(available), dir)),
				"free up disk space or point WORK_DIR at a larger filesystem")
		}
		return
	}

	if available < lowFreeSpace {
		result.Warnings = append(result.Warnings, PreflightWarning{
			Severity: "warning",
			Message:  fmt.Sprintf("Low disk space: %s available in %s", humanizeBytes(available), dir),
			Fix:      "Free up disk space or point WORK_DIR at a larger filesystem",
		})
	}
}
