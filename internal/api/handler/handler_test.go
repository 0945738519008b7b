package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/api/handler"
	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

const testLedgerID = "handler-test"

func newLedger(t *testing.T, prov archive.Provisioner) (*ledger.Ledger, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mgr := archive.NewManager(prov, archive.Config{
		Controllers: []identity.Principal{{0xc0}},
		Owner:       identity.Principal{0x4c},
	}, zap.NewNop())
	cert := certification.NewCertifier(certification.NewAttestor(key, testLedgerID))
	return ledger.New(ledger.Config{ID: testLedgerID}, mgr, cert, zap.NewNop()), key
}

func setupLedgerRouter(t *testing.T) (*gin.Engine, *ledger.Ledger, *rsa.PrivateKey) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, key := newLedger(t, archive.NewMemoryProvisioner())
	r := gin.New()
	handler.NewLedgerHandler(l, zap.NewNop()).Register(r.Group("/api/v1"))
	return r, l, key
}

func setupShardRouter(t *testing.T, host archive.Host) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.NewShardHandler(host, zap.NewNop()).Register(r.Group("/api/v1"))
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func swaps(n int) []ledger.Action {
	out := make([]ledger.Action, n)
	for i := range out {
		out[i] = ledger.Action{Ts: uint64(i), Caller: identity.Principal{0xca}, Payload: ledger.Swap(nil, nil, 1)}
	}
	return out
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

var bg = context.Background()
