//go:build integration

package storage

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"watchtower/config"
	"watchtower/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	clickhouseImage       = "clickhouse/clickhouse-server:24.8"
	clickhouseNativePort  = "9000/tcp"
	clickhouseHTTPPort    = "8123/tcp"
	testDatabaseName      = "watchtower_integration_test"
	containerStartTimeout = 120 * time.Second
)

// setupClickHouse starts a container and returns a connected event store
func setupClickHouse(t *testing.T) *ClickHouseEventStore {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        clickhouseImage,
		ExposedPorts: []string{clickhouseNativePort, clickhouseHTTPPort},
		Env: map[string]string{
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "testpassword",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		},
		WaitingFor: wait.ForHTTP("/").
			WithPort(clickhouseHTTPPort).
			WithStartupTimeout(containerStartTimeout).
			WithResponseMatcher(func(body io.Reader) bool {
				buf, _ := io.ReadAll(body)
				return len(buf) > 0
			}),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start ClickHouse container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	ch, err := NewClickHouse(config.ClickHouseConfig{
		Addr:        fmt.Sprintf("%s:%s", host, port.Port()),
		Database:    testDatabaseName,
		Username:    "default",
		Password:    "testpassword",
		MaxPoolSize: 4,
	}, logger)
	require.NoError(t, err)

	store, err := NewClickHouseEventStore(ctx, ch, 16, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestClickHouseEventStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	store := setupClickHouse(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ev := newTestEvent(core.EventTypeAuthFailure, core.SeverityMedium, "alice", testBase.Add(time.Duration(i)*time.Second))
		ev.Metadata = core.Metadata{"attempt": fmt.Sprint(i)}
		require.NoError(t, store.InsertEvent(ctx, ev))
		ids = append(ids, ev.ID)
	}
	require.NoError(t, store.InsertEvent(ctx, newTestEvent(core.EventTypeDataExport, core.SeverityHigh, "bob", testBase.Add(time.Minute))))

	t.Run("read after write", func(t *testing.T) {
		page, err := store.QueryEvents(ctx, core.EventFilter{UserID: "alice"}, core.Pagination{}, core.EventSort{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
		assert.Equal(t, ids[4], page.Items[0].ID)
	})

	t.Run("get bypassing cache", func(t *testing.T) {
		store.recent.Purge()
		got, err := store.GetEvent(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "0", got.Metadata["attempt"])
	})

	t.Run("search", func(t *testing.T) {
		results, err := store.SearchEvents(ctx, core.SearchQuery{Text: "DATA_EXPORT", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("counts", func(t *testing.T) {
		r := core.TimeRange{Start: testBase.Add(-time.Hour), End: testBase.Add(time.Hour)}
		byType, err := store.CountByType(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, int64(5), core.CountsToMap(byType)["AUTH_FAILURE"])

		top, err := store.TopValues(ctx, "userId", r, 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "alice", top[0].Key)
	})
}
