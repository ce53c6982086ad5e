package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
	"github.com/stacksnap/snapferry/internal/runner"
	"github.com/stacksnap/snapferry/internal/storage"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// memRemote is a destination directory shared by every transport the
// factory hands out.
type memRemote struct {
	mu         sync.Mutex
	files      map[string][]byte
	connectErr error
	deleteErr  map[string]error
	connects   int
	closes     int
}

func newMemRemote(names ...string) *memRemote {
	r := &memRemote{files: map[string][]byte{}, deleteErr: map[string]error{}}
	for _, n := range names {
		r.files[n] = []byte("x")
	}
	return r
}

func (r *memRemote) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for n := range r.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type memTransport struct{ r *memRemote }

func (t *memTransport) Connect(ctx context.Context) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.connects++
	return t.r.connectErr
}

func (t *memTransport) EnsureDir(ctx context.Context, dir string) error { return nil }

func (t *memTransport) Upload(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", domain.Transfer("upload", err)
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	name := filepath.Base(localPath)
	t.r.files[name] = data
	return name, nil
}

func (t *memTransport) Download(ctx context.Context, name, destDir string) (string, error) {
	t.r.mu.Lock()
	data, ok := t.r.files[name]
	t.r.mu.Unlock()
	if !ok {
		return "", domain.NotFound("download", errors.New(name))
	}
	local := filepath.Join(destDir, name)
	return local, os.WriteFile(local, data, 0o600)
}

func (t *memTransport) List(ctx context.Context) ([]string, error) {
	return t.r.names(), nil
}

func (t *memTransport) Delete(ctx context.Context, name string) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if err := t.r.deleteErr[name]; err != nil {
		return err
	}
	delete(t.r.files, name)
	return nil
}

func (t *memTransport) Close() error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.closes++
	return nil
}

// fakeRunner stands in for the dump tools.
type fakeRunner struct {
	cmds        []runner.Command
	stdin       []byte
	unavailable error
	restoreSaw  []string
}

func (f *fakeRunner) Available(ctx context.Context, tool string) error { return f.unavailable }

func (f *fakeRunner) Run(ctx context.Context, c runner.Command) error {
	f.cmds = append(f.cmds, c)
	switch c.Args[0] {
	case "mongodump":
		out := argAfter(c.Args, "--out")
		if err := os.MkdirAll(filepath.Join(out, "shop"), 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(out, "shop", "users.bson"), []byte("bson"), 0o644)
	case "mysqldump":
		_, err := io.WriteString(c.Stdout, "CREATE TABLE t (id int);\n")
		return err
	case "mysql":
		data, err := io.ReadAll(c.Stdin)
		f.stdin = data
		return err
	case "mongorestore":
		for _, a := range c.Args {
			if filepath.IsAbs(a) {
				filepath.Walk(a, func(p string, info os.FileInfo, err error) error {
					if err == nil && !info.IsDir() {
						rel, _ := filepath.Rel(a, p)
						f.restoreSaw = append(f.restoreSaw, rel)
					}
					return nil
				})
			}
		}
	}
	return nil
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type fixture struct {
	svc     *Service
	remote  *memRemote
	runner  *fakeRunner
	workDir string
}

func newFixture(t *testing.T, remote *memRemote) *fixture {
	t.Helper()
	workDir := t.TempDir()
	cfg := &config.Config{
		Transfer: config.Transfer{Protocol: config.ProtocolFTP, RetentionDays: 7},
		Mongo:    config.Mongo{Host: "localhost", Port: "27017", AuthDB: "admin"},
		MySQL:    config.MySQL{Host: "localhost", Port: "3306", User: "root", Password: "pw"},
		Archive:  config.Archive{WorkDir: workDir},
	}
	fr := &fakeRunner{}
	factory := func(config.Transfer, zerolog.Logger) (storage.Transport, error) {
		return &memTransport{r: remote}, nil
	}
	svc := NewService(cfg, fr, zerolog.Nop(), WithTransportFactory(factory), WithClock(func() time.Time { return fixedNow }))
	return &fixture{svc: svc, remote: remote, runner: fr, workDir: workDir}
}

// requireWorkspacesGone checks that no operation left its workspace behind.
func (f *fixture) requireWorkspacesGone(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
