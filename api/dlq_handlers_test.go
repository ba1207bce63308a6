package api

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"watchtower/core"
	"watchtower/ingest"
	"watchtower/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDLQ(t *testing.T, a *API) *ingest.DLQ {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dlq := ingest.NewDLQ(db, logger)
	a.SetDLQ(dlq)
	return dlq
}

func TestDeadLetterRoutes(t *testing.T) {
	cfg := newTestConfig(t, true)
	a := newTestAPI(t, cfg)
	auth := bearer(t, cfg)
	dlq := newTestDLQ(t, a)
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, ingest.FailedMessage{
		Source: "kafka", Origin: "security-events/0/41", ContentType: ingest.ContentTypeJSON,
		Payload: []byte(`{"type":"AUTH_FAILURE","severity":"MEDIUM","userId":"u-7","description":"invalid password"}`),
		Reason:  ingest.ReasonValidation,
	}))
	require.NoError(t, dlq.Add(ctx, ingest.FailedMessage{
		Source: "kafka", Origin: "security-events/0/42", Payload: []byte(`{"type":`), Reason: ingest.ReasonDecode,
	}))

	rr, resp := do(t, a, http.MethodGet, "/api/v1/dlq?status=pending", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	page := decodeData[core.Page[ingest.DeadLetter]](t, resp)
	require.Len(t, page.Items, 2)
	broken, good := page.Items[0], page.Items[1]
	assert.Equal(t, "security-events/0/41", good.Origin)

	rr, resp = do(t, a, http.MethodGet, "/api/v1/dlq/"+strconv.FormatInt(good.ID, 10), nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ingest.ReasonValidation, decodeData[ingest.DeadLetter](t, resp).Reason)

	rr, resp = do(t, a, http.MethodPost, "/api/v1/dlq/"+strconv.FormatInt(good.ID, 10)+"/replay", nil, auth)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	replayed := decodeData[replayResponse](t, resp)
	require.NotNil(t, replayed.Event)

	rr, _ = do(t, a, http.MethodGet, "/api/v1/events/"+replayed.Event.ID, nil, auth)
	assert.Equal(t, http.StatusOK, rr.Code, "the replayed payload is a stored event")

	rr, resp = do(t, a, http.MethodPost, "/api/v1/dlq/"+strconv.FormatInt(good.ID, 10)+"/replay", nil, auth)
	assert.Equal(t, http.StatusConflict, rr.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ingest.DLQStatusReplayed, resp.Error.CurrentState)

	rr, _ = do(t, a, http.MethodPost, "/api/v1/dlq/"+strconv.FormatInt(broken.ID, 10)+"/replay", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "a payload that still does not decode")

	rr, resp = do(t, a, http.MethodDelete, "/api/v1/dlq/"+strconv.FormatInt(broken.ID, 10), nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ingest.DLQStatusDiscarded, decodeData[ingest.DeadLetter](t, resp).Status)

	rr, resp = do(t, a, http.MethodGet, "/api/v1/dlq?status=pending", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeData[core.Page[ingest.DeadLetter]](t, resp).Items)

	rr, _ = do(t, a, http.MethodGet, "/api/v1/dlq?status=archived", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, a, http.MethodGet, "/api/v1/dlq/abc", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, a, http.MethodGet, "/api/v1/dlq/999", nil, auth)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeadLetterRoutes_AnonymousCannotMutate(t *testing.T) {
	a := newTestAPI(t, newTestConfig(t, false))
	dlq := newTestDLQ(t, a)
	require.NoError(t, dlq.Add(context.Background(), ingest.FailedMessage{Source: "kafka", Payload: []byte("x"), Reason: ingest.ReasonDecode}))

	rr, _ := do(t, a, http.MethodGet, "/api/v1/dlq", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, resp := do(t, a, http.MethodDelete, "/api/v1/dlq/1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "actor", resp.Error.Field)

	rr, _ = do(t, a, http.MethodDelete, "/api/v1/dlq/1", nil, map[string]string{actorHeader: "oncall"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDeadLetterRoutes_Unavailable(t *testing.T) {
	cfg := newTestConfig(t, true)
	a := newTestAPI(t, cfg)
	rr, _ := do(t, a, http.MethodGet, "/api/v1/dlq", nil, bearer(t, cfg))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
