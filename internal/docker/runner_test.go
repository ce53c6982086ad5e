package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
	"github.com/stacksnap/snapferry/internal/runner"
)

var images = config.Tools{Runner: config.RunnerDocker, MongoImage: "mongo:7", MySQLImage: "mysql:8"}

// stdinConn records what the runner streams into the container.
type stdinConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *stdinConn) Read([]byte) (int, error) { return 0, errors.New("not readable") }
func (c *stdinConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}
func (c *stdinConn) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *stdinConn) Close() error                     { return nil }
func (c *stdinConn) LocalAddr() net.Addr              { return nil }
func (c *stdinConn) RemoteAddr() net.Addr             { return nil }
func (c *stdinConn) SetDeadline(time.Time) error      { return nil }
func (c *stdinConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stdinConn) SetWriteDeadline(time.Time) error { return nil }

type fakeEngine struct {
	pingErr  error
	pulled   []string
	cfg      *container.Config
	host     *container.HostConfig
	attached container.AttachOptions
	stdout   string
	stderr   string
	exit     int64
	removed  bool
	conn     *stdinConn
}

func (f *fakeEngine) Ping(context.Context) error { return f.pingErr }

func (f *fakeEngine) EnsureImage(_ context.Context, ref string) error {
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeEngine) Create(_ context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	f.cfg, f.host = cfg, host
	return "c0ffee", nil
}

func (f *fakeEngine) Attach(_ context.Context, _ string, opts container.AttachOptions) (types.HijackedResponse, error) {
	f.attached = opts
	var mux bytes.Buffer
	if f.stdout != "" {
		stdcopy.NewStdWriter(&mux, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		stdcopy.NewStdWriter(&mux, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	f.conn = &stdinConn{}
	return types.HijackedResponse{Conn: f.conn, Reader: bufio.NewReader(&mux)}, nil
}

func (f *fakeEngine) Start(context.Context, string) error { return nil }

func (f *fakeEngine) Wait(context.Context, string) (<-chan container.WaitResponse, <-chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: f.exit}
	return status, make(chan error)
}

func (f *fakeEngine) Remove(context.Context, string) error {
	f.removed = true
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func TestImageFor(t *testing.T) {
	r := NewContainerRunner(&fakeEngine{}, images, zerolog.Nop())
	for tool, want := range map[string]string{
		"mongodump":    "mongo:7",
		"mongorestore": "mongo:7",
		"mysqldump":    "mysql:8",
		"mysql":        "mysql:8",
	} {
		got, err := r.imageFor(tool)
		require.NoError(t, err)
		assert.Equal(t, want, got, tool)
	}
	_, err := r.imageFor("pg_dump")
	assert.Error(t, err)
}

func TestAvailable(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewContainerRunner(&fakeEngine{}, images, zerolog.Nop()).Available(ctx, "mongodump"))

	err := NewContainerRunner(&fakeEngine{pingErr: errors.New("dial unix")}, images, zerolog.Nop()).Available(ctx, "mysqldump")
	assert.ErrorIs(t, err, domain.ErrCollaborator)

	err = NewContainerRunner(&fakeEngine{}, images, zerolog.Nop()).Available(ctx, "rsync")
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestRunCapturesStdout(t *testing.T) {
	fe := &fakeEngine{stdout: "-- MySQL dump\n"}
	r := NewContainerRunner(fe, images, zerolog.Nop())

	var out bytes.Buffer
	err := r.Run(context.Background(), runner.Command{
		Args:   []string{"mysqldump", "--host", "db", "shop"},
		Env:    []string{"MYSQL_PWD=pw"},
		Stdout: &out,
		Paths:  []string{"/tmp/ws/", "/tmp/ws"},
	})
	require.NoError(t, err)

	assert.Equal(t, "-- MySQL dump\n", out.String())
	assert.Equal(t, []string{"mysql:8"}, fe.pulled)
	assert.Equal(t, "mysql:8", fe.cfg.Image)
	assert.Equal(t, []string{"mysqldump", "--host", "db", "shop"}, []string(fe.cfg.Cmd))
	assert.Equal(t, []string{"MYSQL_PWD=pw"}, fe.cfg.Env)
	assert.False(t, fe.cfg.OpenStdin)
	assert.False(t, fe.attached.Stdin)
	assert.Equal(t, container.NetworkMode("host"), fe.host.NetworkMode)
	assert.Equal(t, []mount.Mount{{Type: mount.TypeBind, Source: "/tmp/ws", Target: "/tmp/ws"}}, fe.host.Mounts)
	assert.True(t, fe.removed)
}

func TestRunStreamsStdin(t *testing.T) {
	fe := &fakeEngine{}
	r := NewContainerRunner(fe, images, zerolog.Nop())

	err := r.Run(context.Background(), runner.Command{
		Args:  []string{"mysql", "shop"},
		Stdin: strings.NewReader("INSERT INTO t VALUES (1);"),
	})
	require.NoError(t, err)

	assert.True(t, fe.cfg.OpenStdin)
	assert.True(t, fe.cfg.StdinOnce)
	assert.True(t, fe.attached.Stdin)
	assert.Equal(t, "INSERT INTO t VALUES (1);", fe.conn.buf.String())
	assert.True(t, fe.conn.closed)
}

func TestRunNonZeroExit(t *testing.T) {
	fe := &fakeEngine{stderr: "Authentication failed.", exit: 1}
	r := NewContainerRunner(fe, images, zerolog.Nop())

	err := r.Run(context.Background(), runner.Command{Args: []string{"mongodump", "--out", "/ws/dump"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Contains(t, err.Error(), "exit 1")
	assert.Contains(t, err.Error(), "Authentication failed.")
	assert.True(t, fe.removed)
}
