package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/domain"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestFolderRoundTrip(t *testing.T) {
	f := newFixture(t, newMemRemote())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "site")
	writeTree(t, src, map[string]string{"a.txt": "alpha", "b/c.txt": "gamma"})

	res, err := f.svc.Backup(ctx, BackupOptions{Kind: domain.KindFolder, Folder: src})
	require.NoError(t, err)
	assert.Equal(t, "folder_backup_20260310120000.tar.gz", res.Archive)
	assert.Positive(t, res.Size)
	assert.Equal(t, []string{res.Archive}, f.remote.names())

	dest := filepath.Join(t.TempDir(), "restored")
	_, err = f.svc.Restore(ctx, RestoreOptions{Kind: domain.KindFolder, Dest: dest})
	require.NoError(t, err)

	a, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(a))
	c, err := os.ReadFile(filepath.Join(dest, "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "gamma", string(c))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	f.requireWorkspacesGone(t)
	assert.Equal(t, f.remote.connects, f.remote.closes)
}

func TestBackupSweepsExpiredArchives(t *testing.T) {
	remote := newMemRemote(
		"folder_backup_20260301120000.tar.gz", // 9 days old
		"folder_backup_20260303120000.tar.gz", // exactly at the cutoff
		"mysql_dump_20260101000000.tar.gz",
		"notes.txt",
	)
	f := newFixture(t, remote)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"x": "1"})

	res, err := f.svc.Backup(context.Background(), BackupOptions{Kind: domain.KindFolder, Folder: src})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"folder_backup_20260301120000.tar.gz", "mysql_dump_20260101000000.tar.gz"}, res.Retention.Deleted)
	assert.Equal(t, []string{"notes.txt"}, res.Retention.Undated)
	assert.Equal(t, []string{
		"folder_backup_20260303120000.tar.gz",
		"folder_backup_20260310120000.tar.gz",
		"notes.txt",
	}, remote.names())
}

func TestBackupDeniedDeleteDoesNotFail(t *testing.T) {
	remote := newMemRemote("folder_backup_20250101000000.tar.gz")
	remote.deleteErr["folder_backup_20250101000000.tar.gz"] = domain.Transfer("delete", domain.ErrPermissionDenied)
	f := newFixture(t, remote)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"x": "1"})

	res, err := f.svc.Backup(context.Background(), BackupOptions{Kind: domain.KindFolder, Folder: src})
	require.NoError(t, err)
	assert.Equal(t, []string{"folder_backup_20250101000000.tar.gz"}, res.Retention.Denied)
}

func TestMongoBackupCommand(t *testing.T) {
	f := newFixture(t, newMemRemote())
	opts := BackupOptions{Kind: domain.KindMongoDB, DB: "shop", Mongo: f.svc.cfg.Mongo}
	opts.Mongo.User, opts.Mongo.Password = "admin", "secret"

	res, err := f.svc.Backup(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "mongodb_dump_20260310120000.tar.gz", res.Archive)

	require.Len(t, f.runner.cmds, 1)
	cmd := f.runner.cmds[0]
	assert.Equal(t, "mongodump", cmd.Args[0])
	assert.Equal(t, "dump", filepath.Base(argAfter(cmd.Args, "--out")))
	assert.Equal(t, "shop", argAfter(cmd.Args, "--db"))
	assert.Equal(t, "admin", argAfter(cmd.Args, "--authenticationDatabase"))
	assert.Len(t, cmd.Paths, 1)
	f.requireWorkspacesGone(t)
}

func TestMySQLBackupRequiresDatabase(t *testing.T) {
	f := newFixture(t, newMemRemote())
	_, err := f.svc.Backup(context.Background(), BackupOptions{Kind: domain.KindMySQL, MySQL: f.svc.cfg.MySQL})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, f.remote.names())
}

func TestBackupCollaboratorFailureAborts(t *testing.T) {
	f := newFixture(t, newMemRemote())
	f.runner.unavailable = domain.Collaborator("mysqldump", errors.New("binary mysqldump not found"))

	_, err := f.svc.Backup(context.Background(), BackupOptions{Kind: domain.KindMySQL, DB: "shop"})
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Zero(t, f.remote.connects)
	assert.Empty(t, f.remote.names())
}

func TestBackupConnectFailureCleansUp(t *testing.T) {
	remote := newMemRemote()
	remote.connectErr = domain.Connection("connect", errors.New("connection refused"))
	f := newFixture(t, remote)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"x": "1"})

	_, err := f.svc.Backup(context.Background(), BackupOptions{Kind: domain.KindFolder, Folder: src})
	assert.ErrorIs(t, err, domain.ErrConnection)
	f.requireWorkspacesGone(t)
}

func TestPreflight(t *testing.T) {
	ctx := context.Background()

	t.Run("missing folder", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindFolder, Folder: filepath.Join(t.TempDir(), "nope")})
		assert.False(t, res.CanProceed)
		assert.ErrorIs(t, res.Err(), domain.ErrNotFound)
	})

	t.Run("file instead of folder", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindFolder, Folder: file})
		assert.ErrorIs(t, res.Err(), domain.ErrConfiguration)
	})

	t.Run("tool missing", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		f.runner.unavailable = domain.Collaborator("mongodump", errors.New("not found")).WithSuggestion("install it")
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindMongoDB})
		require.Error(t, res.Err())
		assert.ErrorIs(t, res.Err(), domain.ErrCollaborator)
		assert.Equal(t, "install it", res.Warnings[0].Fix)
	})

	t.Run("small folder on a small disk", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		f.svc.freeSpace = func(string) (int64, error) { return 1 << 20, nil }
		src := t.TempDir()
		writeTree(t, src, map[string]string{"a.txt": "alpha"})
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindFolder, Folder: src})
		assert.True(t, res.CanProceed)
		assert.Empty(t, res.Warnings)
	})

	t.Run("folder larger than free space", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		f.svc.freeSpace = func(string) (int64, error) { return 100, nil }
		src := t.TempDir()
		writeTree(t, src, map[string]string{"a.txt": strings.Repeat("x", 80)})
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindFolder, Folder: src})
		assert.False(t, res.CanProceed)
		assert.ErrorIs(t, res.Err(), domain.ErrConfiguration)
	})

	t.Run("dump on a small disk warns", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		f.svc.freeSpace = func(string) (int64, error) { return 1 << 20, nil }
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindMySQL, DB: "shop"})
		assert.True(t, res.CanProceed)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "warning", res.Warnings[0].Severity)
	})

	t.Run("ready", func(t *testing.T) {
		f := newFixture(t, newMemRemote())
		f.svc.freeSpace = func(string) (int64, error) { return 8 << 30, nil }
		res := f.svc.Preflight(ctx, BackupOptions{Kind: domain.KindMongoDB})
		assert.True(t, res.CanProceed)
		assert.NoError(t, res.Err())
	})
}
