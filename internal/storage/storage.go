package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

// Transport moves archives to and from one remote directory.
//
// Connect must succeed before any other method is called. Connect fails with
// a configuration error when host, user or password is missing, and with a
// connection error when the remote cannot be reached or refuses the login.
type Transport interface {
	Connect(ctx context.Context) error
	// EnsureDir creates dir on the remote side if needed and makes it the
	// directory every other operation works in.
	EnsureDir(ctx context.Context, dir string) error
	// Upload stores the local file under its own base name and returns that name.
	Upload(ctx context.Context, localPath string) (string, error)
	// Download writes the named entry into destDir and returns the local path.
	Download(ctx context.Context, name, destDir string) (string, error)
	// List returns the entry names of the remote directory in no particular order.
	List(ctx context.Context) ([]string, error)
	// Delete removes an entry. A refusal for lack of permission wraps
	// domain.ErrPermissionDenied.
	Delete(ctx context.Context, name string) error
	Close() error
}

// New builds the transport selected by cfg.Protocol. Nothing touches the
// network until Connect is called.
func New(cfg config.Transfer, log zerolog.Logger) (Transport, error) {
	var t Transport
	switch cfg.Protocol {
	case config.ProtocolFTP:
		t = NewFTPTransport(cfg, log)
	case config.ProtocolSFTP:
		t = NewSFTPTransport(cfg, log)
	case config.ProtocolS3:
		t = NewS3Transport(cfg, log)
	default:
		return nil, domain.Configuration("select transport", fmt.Errorf("unsupported FTP_PROTOCOL %q", cfg.Protocol)).
			WithSuggestion("set FTP_PROTOCOL to ftp, sftp or s3")
	}

	if cfg.RetryAttempts > 1 {
		rc := DefaultRetryConfig()
		rc.MaxAttempts = cfg.RetryAttempts
		rc.OnRetry = func(attempt int, err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", next).Msg("transfer failed, retrying")
		}
		t = NewRetryingTransport(t, rc)
	}
	return t, nil
}

func checkCredentials(op string, cfg config.Transfer) error {
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		return domain.Configuration(op, fmt.Errorf("missing %s", strings.Join(missing, ", "))).
			WithSuggestion("export " + strings.Join(missing, ", ") + " before running snapferry")
	}
	return nil
}
