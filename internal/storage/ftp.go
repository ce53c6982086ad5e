package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

// ftpConn is the subset of *ftp.ServerConn the transport drives.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	ChangeDir(path string) error
	CurrentDir() (string, error)
	NameList(path string) ([]string, error)
	Stor(path string, r io.Reader) error
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	r, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// FTPTransport speaks plain FTP. Every operation is relative to the
// directory EnsureDir last changed into.
type FTPTransport struct {
	cfg  config.Transfer
	log  zerolog.Logger
	dial func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)
	conn ftpConn
}

func NewFTPTransport(cfg config.Transfer, log zerolog.Logger) *FTPTransport {
	return &FTPTransport{
		cfg:  cfg,
		log:  log.With().Str("transport", "ftp").Logger(),
		dial: dialFTP,
	}
}

func (t *FTPTransport) Connect(ctx context.Context) error {
	if err := checkCredentials("ftp connect", t.cfg); err != nil {
		return err
	}
	// A retried Connect may find the session of a failed earlier attempt.
	t.Close()

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.EffectivePort()))
	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second

	conn, err := t.dial(ctx, addr, timeout)
	if err != nil {
		return domain.Connection("ftp connect", fmt.Errorf("dial %s: %w", addr, err))
	}
	if err := conn.Login(t.cfg.User, t.cfg.Password); err != nil {
		conn.Quit()
		return domain.Connection("ftp login", err).WithSuggestion("check FTP_USER and FTP_PASSWORD")
	}
	if !t.cfg.Passive {
		t.log.Warn().Msg("active mode is not supported by the FTP client, using passive mode")
	}
	t.conn = conn
	t.log.Debug().Str("addr", addr).Msg("connected")

	return t.EnsureDir(ctx, t.cfg.DestDir)
}

// EnsureDir walks dir one segment at a time, relative to the login
// directory, creating and entering each segment.
func (t *FTPTransport) EnsureDir(ctx context.Context, dir string) error {
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		if err := t.conn.MakeDir(part); err != nil && !isPermanentReply(err) {
			return domain.Transfer("ftp mkdir", fmt.Errorf("%s: %w", part, err))
		}
		if err := t.conn.ChangeDir(part); err != nil {
			return domain.Transfer("ftp cwd", fmt.Errorf("%s: %w", part, err))
		}
	}
	return nil
}

func (t *FTPTransport) Upload(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.Transfer("ftp upload", err)
	}
	defer f.Close()

	t.log.Info().Str("archive", name).Msg("uploading")
	if err := t.conn.Stor(name, f); err != nil {
		if derr := t.conn.Delete(name); derr == nil {
			t.log.Debug().Str("archive", name).Msg("removed partial upload")
		}
		return "", domain.Transfer("ftp upload", fmt.Errorf("STOR %s: %w", name, err))
	}
	return name, nil
}

func (t *FTPTransport) Download(ctx context.Context, name, destDir string) (string, error) {
	t.log.Info().Str("archive", name).Msg("downloading")
	r, err := t.conn.Retr(name)
	if err != nil {
		if isPermanentReply(err) {
			return "", domain.NotFound("ftp download", fmt.Errorf("RETR %s: %w", name, err))
		}
		return "", domain.Transfer("ftp download", fmt.Errorf("RETR %s: %w", name, err))
	}
	defer r.Close()

	local, err := writeLocal(r, destDir, name)
	if err != nil {
		return "", domain.Transfer("ftp download", err)
	}
	return local, nil
}

func (t *FTPTransport) List(ctx context.Context) ([]string, error) {
	cwd, err := t.conn.CurrentDir()
	if err != nil {
		return nil, domain.Transfer("ftp list", err)
	}
	entries, err := t.conn.NameList(cwd)
	if err != nil {
		// Some servers answer NLST on an empty directory with 450/550.
		var te *textproto.Error
		if errors.As(err, &te) && (te.Code == ftp.StatusFileActionIgnored || te.Code == ftp.StatusFileUnavailable) {
			return nil, nil
		}
		return nil, domain.Transfer("ftp list", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := path.Base(e)
		if n == "." || n == ".." || n == "/" {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

func (t *FTPTransport) Delete(ctx context.Context, name string) error {
	if err := t.conn.Delete(name); err != nil {
		if isPermanentReply(err) {
			return domain.Transfer("ftp delete", fmt.Errorf("%s: %w: %w", name, domain.ErrPermissionDenied, err))
		}
		return domain.Transfer("ftp delete", fmt.Errorf("%s: %w", name, err))
	}
	return nil
}

func (t *FTPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	return err
}

// isPermanentReply reports a 5xx FTP reply, which servers use both for
// "already exists" and for "permission denied".
func isPermanentReply(err error) bool {
	var te *textproto.Error
	return errors.As(err, &te) && te.Code >= 500 && te.Code < 600
}

func writeLocal(r io.Reader, destDir, name string) (string, error) {
	local := filepath.Join(destDir, filepath.Base(name))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(local)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(local)
		return "", err
	}
	return local, nil
}
