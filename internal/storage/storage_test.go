package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

func TestNewSelectsTransport(t *testing.T) {
	tests := []struct {
		protocol config.Protocol
		want     interface{}
	}{
		{config.ProtocolFTP, &FTPTransport{}},
		{config.ProtocolSFTP, &SFTPTransport{}},
		{config.ProtocolS3, &S3Transport{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.protocol), func(t *testing.T) {
			tr, err := New(config.Transfer{Protocol: tt.protocol, RetryAttempts: 1}, zerolog.Nop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, tr)
		})
	}
}

func TestNewWrapsRetryWhenEnabled(t *testing.T) {
	tr, err := New(config.Transfer{Protocol: config.ProtocolSFTP, RetryAttempts: 4}, zerolog.Nop())
	require.NoError(t, err)

	rt, ok := tr.(*RetryingTransport)
	require.True(t, ok)
	assert.Equal(t, 4, rt.Config.MaxAttempts)
	assert.IsType(t, &SFTPTransport{}, rt.Transport)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New(config.Transfer{Protocol: "gopher"}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestConnectChecksCredentialsFirst(t *testing.T) {
	for _, p := range []config.Protocol{config.ProtocolFTP, config.ProtocolSFTP, config.ProtocolS3} {
		t.Run(string(p), func(t *testing.T) {
			tr, err := New(config.Transfer{Protocol: p, Host: "unreachable.invalid", RetryAttempts: 3}, zerolog.Nop())
			require.NoError(t, err)

			err = tr.Connect(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Contains(t, err.Error(), "FTP_USER, FTP_PASSWORD")
		})
	}
}
