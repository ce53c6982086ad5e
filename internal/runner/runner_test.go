package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/domain"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRedacted(t *testing.T) {
	args := []string{"mongodump", "--host", "db", "--username", "root", "--password", "hunter2", "--out", "/tmp/x"}
	assert.Equal(t, "mongodump --host db --username root --password **** --out /tmp/x", Redacted(args))
	assert.Equal(t, "hunter2", args[6])
}

func TestLocalRunStreams(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	r := NewLocal(zerolog.Nop())

	err := r.Run(context.Background(), Command{
		Args:   []string{"sh", "-c", `printf '%s:' "$MYSQL_PWD"; cat`},
		Env:    []string{"MYSQL_PWD=s3cret"},
		Stdin:  strings.NewReader("CREATE TABLE t;"),
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret:CREATE TABLE t;", out.String())
}

func TestLocalRunNonZeroExit(t *testing.T) {
	requireShell(t)
	err := NewLocal(zerolog.Nop()).Run(context.Background(), Command{
		Args: []string{"sh", "-c", "echo 'auth failed' >&2; exit 3"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Contains(t, err.Error(), "exit 3")
	assert.Contains(t, err.Error(), "auth failed")
}

func TestLocalRunMissingBinary(t *testing.T) {
	err := NewLocal(zerolog.Nop()).Run(context.Background(), Command{
		Args: []string{"snapferry-no-such-tool"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Contains(t, err.Error(), "not found")
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(5)
	tb.Write([]byte("abc"))
	tb.Write([]byte("defgh"))
	assert.Equal(t, "defgh", tb.String())
}
