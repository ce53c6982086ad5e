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
	"github.com/stacksnap/snapferry/internal/retention"
	"github.com/stacksnap/snapferry/internal/runner"
)

type BackupOptions struct {
	Kind domain.Kind
	// DB limits a mongodb dump to one database and names the mysql database.
	DB string
	// Folder is the directory a folder backup archives.
	Folder string

	Mongo             config.Mongo
	MySQL             config.MySQL
	SingleTransaction bool
}

type BackupResult struct {
	Kind      domain.Kind
	Archive   string
	Size      int64
	Duration  time.Duration
	Retention *retention.Result
}

// Backup dumps the source into a fresh workspace, archives it, uploads the
// archive and then prunes expired archives from the same directory.
func (s *Service) Backup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	start := s.now()
	log := s.log.With().Str("kind", string(opts.Kind)).Logger()

	if err := s.Preflight(ctx, opts).Err(); err != nil {
		return nil, err
	}

	ws, cleanup, err := s.workspace("backup")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	src, err := s.dump(ctx, ws, opts)
	if err != nil {
		return nil, err
	}

	name := archive.BuildName(opts.Kind.Label(), s.now())
	archivePath := filepath.Join(ws, name)
	log.Info().Str("archive", name).Msg("creating archive")
	if err := archive.Create(src, archivePath, archive.Options{Pigz: s.cfg.Archive.Pigz}); err != nil {
		return nil, err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	t, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.disconnect(t)

	remote, err := t.Upload(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("archive", remote).Str("size", humanizeBytes(info.Size())).Msg("upload complete")

	swept, err := retention.Sweep(ctx, t, s.cfg.Transfer.RetentionDays, s.now(), log)
	if err != nil {
		return nil, err
	}

	res := &BackupResult{
		Kind:      opts.Kind,
		Archive:   remote,
		Size:      info.Size(),
		Duration:  s.now().Sub(start),
		Retention: swept,
	}
	log.Info().
		Str("archive", remote).
		Dur("duration", res.Duration.Round(time.Millisecond)).
		Msg("backup complete")
	return res, nil
}

// dump produces the file or directory that becomes the archive's single
// top-level entry.
func (s *Service) dump(ctx context.Context, ws string, opts BackupOptions) (string, error) {
	switch opts.Kind {
	case domain.KindMongoDB:
		out := filepath.Join(ws, "dump")
		err := s.runner.Run(ctx, runner.Command{
			Args:  database.MongoDump(opts.Mongo, database.MongoDumpOptions{DB: opts.DB, OutDir: out}),
			Paths: []string{ws},
		})
		if err != nil {
			return "", err
		}
		return out, nil

	case domain.KindMySQL:
		if opts.DB == "" {
			return "", domain.Configuration("mysql backup", errors.New("a database name is required"))
		}
		out := filepath.Join(ws, opts.DB+".sql")
		f, err := os.Create(out)
		if err != nil {
			return "", fmt.Errorf("failed to create dump file: %w", err)
		}
		s.log.Info().Str("db", opts.DB).Msg("running mysqldump")
		err = s.runner.Run(ctx, runner.Command{
			Args: database.MySQLDump(opts.MySQL, database.MySQLDumpOptions{
				DB:                opts.DB,
				SingleTransaction: opts.SingleTransaction,
			}),
			Env:    database.MySQLEnv(opts.MySQL),
			Stdout: f,
			Paths:  []string{ws},
		})
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to write dump file: %w", cerr)
		}
		if err != nil {
			return "", err
		}
		return out, nil

	case domain.KindFolder:
		src, err := filepath.Abs(opts.Folder)
		if err != nil {
			return "", domain.Configuration("folder backup", err)
		}
		dst := filepath.Join(ws, filepath.Base(src))
		if err := copyTree(src, dst, false); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return dst, nil

	default:
		return "", domain.Configuration("backup", fmt.Errorf("unknown kind %q", opts.Kind))
	}
}
