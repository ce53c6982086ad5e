package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

// SFTPTransport keeps one SSH session open between Connect and Close.
type SFTPTransport struct {
	cfg    config.Transfer
	log    zerolog.Logger
	ssh    *ssh.Client
	client *sftp.Client
	dir    string
}

func NewSFTPTransport(cfg config.Transfer, log zerolog.Logger) *SFTPTransport {
	return &SFTPTransport{
		cfg: cfg,
		log: log.With().Str("transport", "sftp").Logger(),
	}
}

func (t *SFTPTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.cfg.KnownHostsFile == "" {
		t.log.Warn().Msg("SFTP_KNOWN_HOSTS not set, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(t.cfg.KnownHostsFile)
	if err != nil {
		return nil, domain.Configuration("sftp connect", fmt.Errorf("load known hosts: %w", err))
	}
	return cb, nil
}

func (t *SFTPTransport) Connect(ctx context.Context) error {
	if err := checkCredentials("sftp connect", t.cfg); err != nil {
		return err
	}
	t.Close()
	hostKey, err := t.hostKeyCallback()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.EffectivePort()))
	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second
	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return domain.Connection("sftp connect", fmt.Errorf("dial %s: %w", addr, err))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return domain.Connection("sftp handshake", err).WithSuggestion("check FTP_USER, FTP_PASSWORD and the server host key")
	}
	t.ssh = ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(t.ssh)
	if err != nil {
		t.ssh.Close()
		t.ssh = nil
		return domain.Connection("sftp session", err)
	}
	t.client = client
	t.log.Debug().Str("addr", addr).Msg("connected")

	return t.EnsureDir(ctx, t.cfg.DestDir)
}

// EnsureDir creates every missing absolute prefix of dir, checking each
// with Stat rather than listing its parent.
func (t *SFTPTransport) EnsureDir(ctx context.Context, dir string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		fi, err := t.client.Stat(current)
		if err == nil {
			if !fi.IsDir() {
				return domain.Transfer("sftp stat", fmt.Errorf("%s exists and is not a directory", current))
			}
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return domain.Transfer("sftp stat", fmt.Errorf("%s: %w", current, err))
		}
		if err := t.client.Mkdir(current); err != nil {
			return domain.Transfer("sftp mkdir", fmt.Errorf("%s: %w", current, err))
		}
	}
	if current == "" {
		current = "/"
	}
	t.dir = current
	return nil
}

func (t *SFTPTransport) remote(name string) string {
	return path.Join(t.dir, path.Base(name))
}

func (t *SFTPTransport) Upload(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	remote := t.remote(name)

	in, err := os.Open(localPath)
	if err != nil {
		return "", domain.Transfer("sftp upload", err)
	}
	defer in.Close()

	t.log.Info().Str("archive", remote).Msg("uploading")
	out, err := t.client.Create(remote)
	if err != nil {
		return "", domain.Transfer("sftp upload", fmt.Errorf("create %s: %w", remote, err))
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		t.client.Remove(remote)
		return "", domain.Transfer("sftp upload", fmt.Errorf("write %s: %w", remote, err))
	}
	if err := out.Close(); err != nil {
		t.client.Remove(remote)
		return "", domain.Transfer("sftp upload", fmt.Errorf("close %s: %w", remote, err))
	}
	return name, nil
}

func (t *SFTPTransport) Download(ctx context.Context, name, destDir string) (string, error) {
	remote := t.remote(name)
	t.log.Info().Str("archive", remote).Msg("downloading")

	in, err := t.client.Open(remote)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NotFound("sftp download", fmt.Errorf("%s: %w", remote, err))
		}
		return "", domain.Transfer("sftp download", fmt.Errorf("%s: %w", remote, err))
	}
	defer in.Close()

	local, err := writeLocal(in, destDir, name)
	if err != nil {
		return "", domain.Transfer("sftp download", err)
	}
	return local, nil
}

func (t *SFTPTransport) List(ctx context.Context) ([]string, error) {
	infos, err := t.client.ReadDir(t.dir)
	if err != nil {
		return nil, domain.Transfer("sftp list", fmt.Errorf("%s: %w", t.dir, err))
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names, nil
}

func (t *SFTPTransport) Delete(ctx context.Context, name string) error {
	remote := t.remote(name)
	if err := t.client.Remove(remote); err != nil {
		if isSFTPPermission(err) {
			return domain.Transfer("sftp delete", fmt.Errorf("%s: %w: %w", remote, domain.ErrPermissionDenied, err))
		}
		return domain.Transfer("sftp delete", fmt.Errorf("%s: %w", remote, err))
	}
	return nil
}

func (t *SFTPTransport) Close() error {
	var errs []error
	if t.client != nil {
		errs = append(errs, t.client.Close())
		t.client = nil
	}
	if t.ssh != nil {
		errs = append(errs, t.ssh.Close())
		t.ssh = nil
	}
	return errors.Join(errs...)
}

func isSFTPPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	var se *sftp.StatusError
	return errors.As(err, &se) && se.Code == uint32(sftp.ErrSSHFxPermissionDenied)
}
