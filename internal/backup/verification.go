package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stacksnap/snapferry/internal/archive"
	"github.com/stacksnap/snapferry/internal/domain"
)

type VerifyOptions struct {
	// Kind selects the layout check. When empty it is taken from the
	// archive name.
	Kind         domain.Kind
	LocalArchive string
	RemoteName   string
}

type VerificationResult struct {
	Archive      string      `json:"archive"`
	Kind         domain.Kind `json:"kind,omitempty"`
	Verified     bool        `json:"verified"`
	TestedAt     time.Time   `json:"tested_at"`
	Files        int         `json:"files"`
	Bytes        int64       `json:"bytes"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// Verify reads a whole archive, checking the gzip and tar layers, and then
// checks that it holds the artifact a restore of its kind would look for.
// A damaged archive yields an unverified result, not an error; errors are
// reserved for failing to obtain the archive at all.
func (s *Service) Verify(ctx context.Context, opts VerifyOptions) (*VerificationResult, error) {
	ws, cleanup, err := s.workspace("verify")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	kind := opts.Kind
	if opts.LocalArchive == "" && opts.RemoteName == "" && kind == "" {
		return nil, domain.Configuration("verify", fmt.Errorf("name an archive or a kind"))
	}
	path, err := s.resolve(ctx, RestoreOptions{
		Kind:         kind,
		LocalArchive: opts.LocalArchive,
		RemoteName:   opts.RemoteName,
	}, ws)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Archive:  filepath.Base(path),
		TestedAt: s.now().UTC(),
	}
	if kind == "" {
		kind = kindFromName(result.Archive)
	}
	result.Kind = kind

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := archive.Inspect(f)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	result.Files = contents.Files
	result.Bytes = contents.Bytes

	if err := checkLayout(kind, contents.TopLevel()); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if _, ok := archive.ParseTimestamp(result.Archive); !ok {
		s.log.Warn().Str("archive", result.Archive).Msg("archive name carries no timestamp, retention will never prune it")
	}

	result.Verified = true
	s.log.Info().
		Str("archive", result.Archive).
		Int("files", result.Files).
		Str("size", humanizeBytes(result.Bytes)).
		Msg("archive verified")
	return result, nil
}

func kindFromName(name string) domain.Kind {
	for _, k := range domain.Kinds {
		if strings.HasPrefix(name, k.Prefix()) {
			return k
		}
	}
	return ""
}

// checkLayout mirrors what restore locates: a dump directory, exactly one
// SQL file, or exactly one top-level directory.
func checkLayout(kind domain.Kind, top []archive.Member) error {
	switch kind {
	case domain.KindMongoDB:
		for _, m := range top {
			if m.Name == "dump" && m.IsDir {
				return nil
			}
		}
		return fmt.Errorf("no dump directory at the top level")
	case domain.KindMySQL:
		var sql int
		for _, m := range top {
			if !m.IsDir && strings.HasSuffix(m.Name, ".sql") {
				sql++
			}
		}
		if sql != 1 {
			return fmt.Errorf("expected one .sql file at the top level, found %d", sql)
		}
		return nil
	case domain.KindFolder:
		if len(top) != 1 || !top[0].IsDir {
			return fmt.Errorf("expected a single top-level directory, found %d entries", len(top))
		}
		return nil
	default:
		if len(top) == 0 {
			return fmt.Errorf("archive is empty")
		}
		return nil
	}
}
