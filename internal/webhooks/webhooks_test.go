package webhooks_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/webhooks"
)

type received struct {
	body      []byte
	signature string
	event     string
}

// receiver answers with statuses in order, then 200, and records each hit.
type receiver struct {
	mu       sync.Mutex
	statuses []int
	hits     []received
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits = append(rc.hits, received{body, r.Header.Get(webhooks.SignatureHeader), r.Header.Get(webhooks.EventHeader)})
	status := http.StatusOK
	if len(rc.statuses) > 0 {
		status, rc.statuses = rc.statuses[0], rc.statuses[1:]
	}
	w.WriteHeader(status)
}

func (rc *receiver) all() []received {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]received(nil), rc.hits...)
}

func newService(t *testing.T, rc *receiver, events ...string) (*webhooks.Service, *webhooks.Subscription) {
	t.Helper()
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)

	svc := webhooks.NewService(webhooks.NewMemoryRepository(), "hook-ledger", zap.NewNop())
	svc.SetRetryDelays(0, 0, 0)
	sub, err := svc.Subscribe(context.Background(), &webhooks.CreateSubscriptionRequest{URL: srv.URL, Events: events})
	require.NoError(t, err)
	return svc, sub
}

func TestService_deliversSignedArchiveEvent(t *testing.T) {
	rc := &receiver{}
	svc, sub := newService(t, rc, webhooks.EventWindowArchived)
	var outcomes atomic.Int32
	svc.SetMetricsRecorder(func(success bool) {
		if success {
			outcomes.Add(1)
		}
	})

	svc.ArchiveHook(archive.Record{Shard: "shard-1", Start: 120, Length: 120}, nil)
	svc.Wait()

	hits := rc.all()
	require.Len(t, hits, 1)
	assert.Equal(t, webhooks.EventWindowArchived, hits[0].event)
	assert.True(t, webhooks.VerifySignature(hits[0].body, sub.Secret, hits[0].signature))
	assert.False(t, webhooks.VerifySignature(hits[0].body, "other", hits[0].signature))

	var ev webhooks.Event
	require.NoError(t, json.Unmarshal(hits[0].body, &ev))
	assert.Equal(t, "hook-ledger", ev.LedgerID)
	assert.Equal(t, map[string]string{"shard": "shard-1", "start": "120", "length": "120"}, ev.Payload)
	assert.Equal(t, int32(1), outcomes.Load())

	ds, err := svc.Deliveries(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Success)
	assert.Equal(t, ev.ID, ds[0].EventID)
}

func TestService_retriesFailedDeliveries(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusBadGateway, http.StatusInternalServerError}}
	svc, sub := newService(t, rc, webhooks.EventWindowArchived)

	svc.Dispatch(context.Background(), webhooks.EventWindowArchived, map[string]string{"start": "0"})
	svc.Wait()

	assert.Len(t, rc.all(), 3)
	ds, err := svc.Deliveries(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.True(t, ds[0].Success, "newest first")
	assert.Equal(t, 3, ds[0].Attempt)
	assert.Equal(t, "HTTP 500", ds[1].ErrorMessage)
	assert.Equal(t, http.StatusBadGateway, ds[2].StatusCode)
}

func TestService_blockedWindowReportedOnce(t *testing.T) {
	rc := &receiver{}
	svc, _ := newService(t, rc, webhooks.EventArchivalBlocked)
	stuck := archive.Record{Start: 240, Length: 120}
	down := errors.New("shard stopped")

	svc.ArchiveHook(stuck, down)
	svc.ArchiveHook(stuck, down)
	svc.Wait()
	require.Len(t, rc.all(), 1)

	svc.ArchiveHook(archive.Record{Shard: "s", Start: 240, Length: 120}, nil)
	svc.ArchiveHook(archive.Record{Start: 360, Length: 120}, down)
	svc.Wait()

	hits := rc.all()
	require.Len(t, hits, 2)
	var ev webhooks.Event
	require.NoError(t, json.Unmarshal(hits[1].body, &ev))
	assert.Equal(t, "360", ev.Payload["start"])
	assert.Equal(t, "shard stopped", ev.Payload["error"])
}

func TestService_subscribeRejectsUnknownEvent(t *testing.T) {
	svc := webhooks.NewService(webhooks.NewMemoryRepository(), "x", zap.NewNop())
	_, err := svc.Subscribe(context.Background(), &webhooks.CreateSubscriptionRequest{
		URL: "http://example.com", Events: []string{"block.created"},
	})
	assert.ErrorIs(t, err, webhooks.ErrUnknownEvent)
}

func TestMemoryRepository_listAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := webhooks.NewMemoryRepository()
	a := &webhooks.Subscription{URL: "http://a", Events: []string{webhooks.EventWindowArchived}}
	b := &webhooks.Subscription{URL: "http://b", Events: []string{webhooks.EventArchivalBlocked}}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "http://a", all[0].URL)

	blocked, err := repo.ListByEvent(ctx, webhooks.EventArchivalBlocked)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, b.ID, blocked[0].ID)

	require.NoError(t, repo.Delete(ctx, a.ID))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID), webhooks.ErrNotFound)
	_, err = repo.Get(ctx, a.ID)
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}

func TestHandler_routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := webhooks.NewService(webhooks.NewMemoryRepository(), "x", zap.NewNop())
	r := gin.New()
	webhooks.NewHandler(svc, "s3cret", zap.NewNop()).Register(r.Group("/api/v1"))

	do := func(method, path, body string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth {
			req.Header.Set("Authorization", "Bearer s3cret")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/webhooks", "", false).Code)

	w := do(http.MethodPost, "/api/v1/webhooks", `{"url":"http://hooks.test/in","events":["window.archived"]}`, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Subscription webhooks.Subscription `json:"subscription"`
		Secret       string                `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Secret, 64)
	id := created.Subscription.ID.String()

	w = do(http.MethodGet, "/api/v1/webhooks", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.NotContains(t, w.Body.String(), created.Secret)

	w = do(http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deliveries":[]}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries?limit=0", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/webhooks", `{"url":"http://h.test","events":["nope"]}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/webhooks", `{"url":"not a url","events":["window.archived"]}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodDelete, "/api/v1/webhooks/xyz", "", true).Code)

	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/v1/webhooks/"+id, "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1/webhooks/"+id, "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries", "", true).Code)
}
