package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/autotagger/tagger"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{
		WDv3: &stubTagger{},
		RRJ:  &stubTagger{},
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Models    map[string]string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotZero(t, body.Timestamp)
	assert.Equal(t, "available", body.Models["wd-vit-tagger-v3"])
	assert.Equal(t, "available", body.Models["redrocket-joint-tagger"])
}

func TestHealthReportsUnavailableBackends(t *testing.T) {
	s := newTestServer(t, Options{
		WDv3: &stubTagger{ready: errors.New("script missing")},
		RRJ:  nil,
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Models map[string]string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Models["wd-vit-tagger-v3"])
	assert.Equal(t, "unavailable", body.Models["redrocket-joint-tagger"])
}

func TestWDv3Endpoint(t *testing.T) {
	wd := &stubTagger{res: tagger.FromTags([]string{"cat", "large dog"})}
	s := newTestServer(t, Options{WDv3: wd})

	rec := serve(s, uploadRequest(t, "/autotag/wd-vit-tagger-v3", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tags":["cat","large dog"]}`, rec.Body.String())
	assert.Equal(t, 1, wd.calls)
}

func TestWDv3EndpointFailure(t *testing.T) {
	wd := &stubTagger{err: errors.New("tagger script failed: exit status 3")}
	s := newTestServer(t, Options{WDv3: wd})

	rec := serve(s, uploadRequest(t, "/autotag/wd-vit-tagger-v3", pngBytes(t)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "tagger script failed")
}

func TestRRJEndpoint(t *testing.T) {
	rj := &stubTagger{res: tagger.FromScores([]tagger.TagScore{
		{Tag: "solo", Score: 0.9},
		{Tag: "outdoors", Score: 0.4},
	}, 0)}
	s := newTestServer(t, Options{RRJ: rj})

	rec := serve(s, uploadRequest(t, "/autotag/redrocket-joint-tagger", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tags    []string           `json:"tags"`
		Details map[string]float64 `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"solo", "outdoors"}, body.Tags)
	assert.InDelta(t, 0.9, body.Details["solo"], 1e-6)
	assert.InDelta(t, 0.2, rj.gotThreshold, 1e-6)
}

func TestRRJEndpointThresholdQuery(t *testing.T) {
	rj := &stubTagger{res: tagger.FromScores(nil, 0)}
	s := newTestServer(t, Options{RRJ: rj})

	rec := serve(s, uploadRequest(t, "/autotag/redrocket-joint-tagger?threshold=0.75", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.75, rj.gotThreshold, 1e-6)
}

func TestRRJEndpointThresholdInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "1.5", "-0.1", "NaN"} {
		t.Run(raw, func(t *testing.T) {
			rj := &stubTagger{}
			s := newTestServer(t, Options{RRJ: rj})

			rec := serve(s, uploadRequest(t, "/autotag/redrocket-joint-tagger?threshold="+raw, pngBytes(t)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "threshold")
			assert.Zero(t, rj.calls)
		})
	}
}

func TestRRJEndpointUnavailable(t *testing.T) {
	s := newTestServer(t, Options{WDv3: &stubTagger{}})

	rec := serve(s, uploadRequest(t, "/autotag/redrocket-joint-tagger", pngBytes(t)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not available")
}

func TestTagEndpointNoFile(t *testing.T) {
	s := newTestServer(t, Options{WDv3: &stubTagger{}})

	req := httptest.NewRequest(http.MethodPost, "/autotag/wd-vit-tagger-v3", nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no file uploaded")
}

func TestTagEndpointBadImage(t *testing.T) {
	s := newTestServer(t, Options{WDv3: &stubTagger{}})

	rec := serve(s, uploadRequest(t, "/autotag/wd-vit-tagger-v3", []byte("not an image")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not decode image")
}

func TestIndexServesFrontend(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Frontend.HTML, []byte("<html>autotagger</html>"), 0o644))
	s := newTestServer(t, Options{Config: cfg})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autotagger")
}

func TestIndexMissingFrontend(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestAssets(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Frontend.Assets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Frontend.Assets, "app.js"), []byte("console.log(1)"), 0o644))
	s := newTestServer(t, Options{Config: cfg})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/assets/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{WDv3: &stubTagger{res: tagger.FromTags([]string{"cat"})}})

	serve(s, uploadRequest(t, "/autotag/wd-vit-tagger-v3", pngBytes(t)))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autotagger_requests_total")
	assert.Contains(t, rec.Body.String(), "autotagger_request_duration_seconds")
}
