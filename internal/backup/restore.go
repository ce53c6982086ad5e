package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stacksnap/snapferry/internal/archive"
	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/database"
	"github.com/stacksnap/snapferry/internal/domain"
	"github.com/stacksnap/snapferry/internal/runner"
)

type RestoreOptions struct {
	Kind domain.Kind

	// LocalArchive wins over RemoteName; with neither set the newest
	// remote archive for the kind is used.
	LocalArchive string
	RemoteName   string

	// DB narrows a mongodb restore and names the mysql target database.
	DB    string
	Mongo config.Mongo
	MySQL config.MySQL
	Drop  bool

	// Dest and Overwrite apply to folder restores.
	Dest      string
	Overwrite bool
}

type RestoreResult struct {
	Kind     domain.Kind
	Archive  string
	Duration time.Duration
}

func (s *Service) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	start := s.now()
	log := s.log.With().Str("kind", string(opts.Kind)).Logger()

	if err := checkRestoreOptions(opts); err != nil {
		return nil, err
	}

	ws, cleanup, err := s.workspace("restore")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	archivePath, err := s.resolve(ctx, opts, ws)
	if err != nil {
		return nil, err
	}

	extractDir := filepath.Join(ws, "extract")
	log.Info().Str("archive", archivePath).Msg("extracting archive")
	if err := archive.Extract(archivePath, extractDir); err != nil {
		return nil, err
	}

	if err := s.load(ctx, ws, extractDir, opts); err != nil {
		return nil, err
	}

	res := &RestoreResult{
		Kind:     opts.Kind,
		Archive:  filepath.Base(archivePath),
		Duration: s.now().Sub(start),
	}
	log.Info().
		Str("archive", res.Archive).
		Dur("duration", res.Duration.Round(time.Millisecond)).
		Msg("restore complete")
	return res, nil
}

func checkRestoreOptions(opts RestoreOptions) error {
	switch opts.Kind {
	case domain.KindMongoDB:
	case domain.KindMySQL:
		if opts.DB == "" {
			return domain.Configuration("mysql restore", errors.New("a target database name is required"))
		}
	case domain.KindFolder:
		if opts.Dest == "" {
			return domain.Configuration("folder restore", errors.New("a destination path is required"))
		}
	default:
		return domain.Configuration("restore", fmt.Errorf("unknown kind %q", opts.Kind))
	}
	return nil
}

// resolve returns a local path for the archive to restore, downloading it
// into the workspace unless a local archive was given.
func (s *Service) resolve(ctx context.Context, opts RestoreOptions, ws string) (string, error) {
	if opts.LocalArchive != "" {
		if _, err := os.Stat(opts.LocalArchive); err != nil {
			return "", domain.NotFound("resolve archive", err)
		}
		return opts.LocalArchive, nil
	}

	t, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer s.disconnect(t)

	name := opts.RemoteName
	if name == "" {
		names, err := t.List(ctx)
		if err != nil {
			return "", err
		}
		if name, err = archive.SelectLatest(names, opts.Kind.Prefix()); err != nil {
			return "", err
		}
		s.log.Info().Str("archive", name).Msg("selected latest archive")
	}

	dir := filepath.Join(ws, "download")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return t.Download(ctx, name, dir)
}

// load locates the artifact the backup put in the archive and feeds it to
// the kind's restore collaborator.
func (s *Service) load(ctx context.Context, ws, extractDir string, opts RestoreOptions) error {
	switch opts.Kind {
	case domain.KindMongoDB:
		dumpDir, err := archive.LocateDir(extractDir, "dump")
		if err != nil {
			return err
		}
		return s.runner.Run(ctx, runner.Command{
			Args: database.MongoRestore(opts.Mongo, database.MongoRestoreOptions{
				DB:      opts.DB,
				DumpDir: dumpDir,
				Drop:    opts.Drop,
			}),
			Paths: []string{ws},
		})

	case domain.KindMySQL:
		sqlFile, err := archive.LocateFile(extractDir, "*.sql")
		if err != nil {
			return err
		}
		f, err := os.Open(sqlFile)
		if err != nil {
			return err
		}
		defer f.Close()
		s.log.Info().Str("db", opts.DB).Str("file", filepath.Base(sqlFile)).Msg("importing SQL")
		return s.runner.Run(ctx, runner.Command{
			Args:  database.MySQLImport(opts.MySQL, opts.DB),
			Env:   database.MySQLEnv(opts.MySQL),
			Stdin: f,
			Paths: []string{ws},
		})

	default:
		srcDir, err := archive.LocateSingleDir(extractDir)
		if err != nil {
			return err
		}
		dest, err := filepath.Abs(opts.Dest)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dest, err)
		}
		s.log.Info().Str("dest", dest).Bool("overwrite", opts.Overwrite).Msg("copying files")
		if err := copyTree(srcDir, dest, opts.Overwrite); err != nil {
			if errors.Is(err, os.ErrExist) {
				return domain.Configuration("folder restore", err).WithSuggestion("pass --overwrite to replace existing files")
			}
			return fmt.Errorf("failed to copy into %s: %w", dest, err)
		}
		return nil
	}
}
