package bootstrap

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		s        string
		substr   string
		expected bool
	}{
		{"Hello World", "hello", true},
		{"Hello World", "WORLD", true},
		{"Hello World", "xyz", false},
		{"", "", true},
		{"abc", "", true},
		{"", "abc", false},
		{"connection refused", "Connection Refused", true},
		{"ECONNREFUSED", "econnrefused", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			assert.Equal(t, tt.expected, containsIgnoreCase(tt.s, tt.substr))
		})
	}
}

func TestClassifyConnectionError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil error returns empty string", nil, ""},
		{"connection refused", refused, "not running"},
		{"unknown host", errors.New("dial tcp: lookup clickhouse.internal: no such host"), "Cannot resolve hostname"},
		{"bad credentials", errors.New("code: 516, message: default: Authentication failed"), "Authentication failed"},
		{"anything else", errors.New("boom"), "Failed to connect to ClickHouse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(tt.err, "127.0.0.1:9000")
			if tt.contains == "" {
				assert.Empty(t, result)
				return
			}
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil error returns empty string", nil, ""},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), "locked by another process"},
		{"permission", errors.New("open /data/watchtower.db: permission denied"), "Permission denied"},
		{"corrupt", errors.New("database disk image is malformed"), "corrupted"},
		{"read-only", errors.New("attempt to write a read-only database"), "read-only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifySQLiteError(tt.err, "/data/watchtower.db")
			if tt.contains == "" {
				assert.Empty(t, result)
				return
			}
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestEnsureDataDirectory(t *testing.T) {
	logger := zap.NewNop().Sugar()

	t.Run("creates missing parents", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "data", "watchtower.db")
		require.NoError(t, EnsureDataDirectory(dbPath, logger))

		info, err := os.Stat(filepath.Dir(dbPath))
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		_, err = os.Stat(filepath.Join(filepath.Dir(dbPath), ".watchtower_write_test"))
		assert.True(t, os.IsNotExist(err), "probe file is removed")
	})

	t.Run("memory database needs no directory", func(t *testing.T) {
		assert.NoError(t, EnsureDataDirectory(":memory:", logger))
	})
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		logger, sugar, err := InitLogger("warn", format)
		require.NoError(t, err, format)
		assert.NotNil(t, sugar)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel))
		assert.True(t, logger.Core().Enabled(zap.ErrorLevel))
	}

	_, _, err := InitLogger("loud", "console")
	assert.Error(t, err)
}
