// Package backup runs the backup and restore flows for every data source
// kind: dump, archive, transfer, prune, and the reverse.
package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/runner"
	"github.com/stacksnap/snapferry/internal/storage"
)

// TransportFactory opens a transport for one operation.
type TransportFactory func(cfg config.Transfer, log zerolog.Logger) (storage.Transport, error)

type Service struct {
	cfg          *config.Config
	newTransport TransportFactory
	runner       runner.Runner
	log          zerolog.Logger
	now          func() time.Time
	freeSpace    func(dir string) (int64, error)
}

type Option func(*Service)

func WithTransportFactory(f TransportFactory) Option {
	return func(s *Service) { s.newTransport = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg *config.Config, r runner.Runner, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg,
		newTransport: storage.New,
		runner:       r,
		log:          log,
		now:          time.Now,
		freeSpace:    statfsAvailable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// workspace creates the scratch directory an operation owns. The returned
// cleanup removes it and must run on every exit path.
func (s *Service) workspace(purpose string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.cfg.Archive.WorkDir, "snapferry-"+purpose+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn().Err(err).Str("workspace", dir).Msg("failed to remove workspace")
		}
	}, nil
}

// connect opens and connects a transport. The caller closes it.
func (s *Service) connect(ctx context.Context) (storage.Transport, error) {
	t, err := s.newTransport(s.cfg.Transfer, s.log)
	if err != nil {
		return nil, err
	}
	if err := t.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (s *Service) disconnect(t storage.Transport) {
	if err := t.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close transport")
	}
}

func humanizeBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
