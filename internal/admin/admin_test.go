package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/verdict"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(stats *server.DNSStats, cache *verdict.Cache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &handler{nodeID: "test-node", stats: stats, cache: cache}
	registerRoutes(r, h)
	return r
}

func performRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatus_ReportsCountersAndNodeID(t *testing.T) {
	stats := server.NewDNSStats()
	stats.RecordQuery("udp")
	stats.RecordQuery("tcp")
	stats.RecordCacheHit()

	r := newTestRouter(stats, verdict.New())
	w := performRequest(r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test-node", resp.NodeID)
	assert.Equal(t, uint64(2), resp.DNS.QueriesTotal)
	assert.Equal(t, uint64(1), resp.DNS.QueriesUDP)
	assert.Equal(t, uint64(1), resp.DNS.QueriesTCP)
	assert.Equal(t, uint64(1), resp.DNS.CacheHits)
}

func TestVerdicts_ReflectsCacheContents(t *testing.T) {
	cache := verdict.New()
	cache.Insert(verdict.Key{Name: "blocked.example", Type: 256}, verdict.Entry{Blocked: true, TTL: 100})
	cache.Insert(verdict.Key{Name: "clean.example", Type: 256}, verdict.Entry{Blocked: false, TTL: 100})

	r := newTestRouter(server.NewDNSStats(), cache)
	w := performRequest(r, http.MethodGet, "/verdicts")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count    int          `json:"count"`
		Verdicts []verdictRow `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	byName := make(map[string]bool)
	for _, row := range body.Verdicts {
		byName[row.Name] = row.Blocked
	}
	assert.Equal(t, true, byName["blocked.example"])
	assert.Equal(t, false, byName["clean.example"])
}

func TestVerdicts_EmptyCache(t *testing.T) {
	r := newTestRouter(server.NewDNSStats(), verdict.New())
	w := performRequest(r, http.MethodGet, "/verdicts")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count    int           `json:"count"`
		Verdicts []verdictRow  `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}
