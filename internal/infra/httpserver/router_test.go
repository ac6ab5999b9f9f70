package httpserver

import (
	"bytes"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	appai "github.com/lokesh-guntreddi/oceanographic/internal/application/ai"
	appfish "github.com/lokesh-guntreddi/oceanographic/internal/application/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/ai/openai"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/imaging"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/report"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/storage"
	"github.com/lokesh-guntreddi/oceanographic/internal/middleware"
)

const (
	llmURL       = "https://llm.test/v1"
	assistantURL = "https://assistant.test/v1"
	jpegBytes    = "\xff\xd8\xff\xe0\x00\x10JFIF\x00fake-jpeg-body"
)

type testServer struct {
	handler   http.Handler
	llm       *httpmock.MockTransport
	assistant *httpmock.MockTransport
	rasters   *httpmock.MockTransport
	static    string
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		llm:       httpmock.NewMockTransport(),
		assistant: httpmock.NewMockTransport(),
		rasters:   httpmock.NewMockTransport(),
		static:    t.TempDir(),
	}

	images, err := storage.NewLocalImages(filepath.Join(ts.static, "uploads"), "/static/uploads", 1<<20)
	require.NoError(t, err)

	analyzer := openai.NewClient(openai.Options{
		APIKey:     "test",
		BaseURL:    llmURL,
		Model:      "test-model",
		Timeout:    time.Second,
		HTTPClient: &http.Client{Transport: ts.llm},
	})
	assistant := openai.NewAssistantClient(openai.AssistantOptions{
		APIKey:     "test",
		BaseURL:    assistantURL,
		Model:      "oceanassistant",
		HTTPClient: &http.Client{Transport: ts.assistant},
	})

	metrics, err := middleware.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := &appfish.Service{
		Images:   images,
		Analyzer: analyzer,
		Reports:  report.NewGenerator(filepath.Join(ts.static, "reports"), "/static/reports"),
		Observer: metrics,
	}

	ts.handler = NewRouter(Deps{
		Fish:           svc,
		AI:             appai.NewService(assistant),
		TIFF:           imaging.NewConverter(&http.Client{Transport: ts.rasters}, time.Second, 1<<20, 1_000_000, time.Minute),
		Metrics:        metrics,
		Health:         map[string]middleware.HealthChecker{"storage": &middleware.StorageHealthChecker{Dirs: []string{ts.static}}},
		StaticDir:      ts.static,
		MaxUploadBytes: 1 << 20,
		RequestTimeout: 5 * time.Second,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/fish/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func exportRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/fish/export", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadAnalyzesProseWrappedReply(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.RegisterResponder(http.MethodPost, llmURL+"/chat/completions",
		httpmock.NewStringResponder(http.StatusOK, completion(
			"Sure! Here is the result:\n{\"commonName\":\"Oil Sardine\",\"species\":\"Sardinella longiceps\",\"confidence\":87}\nHope that helps!")))

	rec := ts.do(uploadRequest(t, "image", "../../etc/passwd.jpg", []byte(jpegBytes)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	imageURL, _ := body["image_url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "/static/uploads/"))
	assert.NotContains(t, imageURL, "passwd")

	analysis, ok := body["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, analysis, 11)
	assert.Equal(t, "Oil Sardine", analysis["commonName"])
	assert.Equal(t, "Sardinella longiceps", analysis["species"])
	assert.Equal(t, 87.0, analysis["confidence"])
	assert.Equal(t, "", analysis["family"])
	assert.Equal(t, []any{}, analysis["characteristics"])
	assert.Equal(t, []any{}, analysis["similarSpecies"])
	assert.Equal(t, map[string]any{"estimatedLength": "", "estimatedWeight": "", "bodyDepth": ""}, analysis["measurements"])

	// the stored image is served back
	img := ts.do(httptest.NewRequest(http.MethodGet, imageURL, nil))
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, jpegBytes, img.Body.String())
}

func TestUploadFailures(t *testing.T) {
	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		responder httpmock.Responder
		status    int
		kind      string
		contains  string
	}{
		{
			name:     "no file",
			req:      func(t *testing.T) *http.Request { return uploadRequest(t, "other", "a.jpg", []byte(jpegBytes)) },
			status:   http.StatusBadRequest,
			kind:     "missing_input",
			contains: "no file uploaded",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/fish/upload", strings.NewReader("{}"))
			},
			status: http.StatusBadRequest,
			kind:   "missing_input",
		},
		{
			name:     "not an image",
			req:      func(t *testing.T) *http.Request { return uploadRequest(t, "image", "notes.jpg", []byte("just some text")) },
			status:   http.StatusBadRequest,
			kind:     "invalid_input",
			contains: "unsupported file type",
		},
		{
			name:     "too large",
			req:      func(t *testing.T) *http.Request { return uploadRequest(t, "image", "big.jpg", bytes.Repeat([]byte(jpegBytes), 100_000)) },
			status:   http.StatusBadRequest,
			kind:     "invalid_input",
			contains: "exceeds",
		},
		{
			name:      "reply without json",
			req:       func(t *testing.T) *http.Request { return uploadRequest(t, "image", "a.jpg", []byte(jpegBytes)) },
			responder: httpmock.NewStringResponder(http.StatusOK, completion("I cannot identify this fish, sorry.")),
			status:    http.StatusInternalServerError,
			kind:      "malformed_response",
		},
		{
			name:      "upstream unavailable",
			req:       func(t *testing.T) *http.Request { return uploadRequest(t, "image", "a.jpg", []byte(jpegBytes)) },
			responder: httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":{"message":"model overloaded","type":"unavailable"}}`),
			status:    http.StatusInternalServerError,
			kind:      "external_service",
			contains:  "model overloaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.responder != nil {
				ts.llm.RegisterResponder(http.MethodPost, llmURL+"/chat/completions", tt.responder)
			}

			rec := ts.do(tt.req(t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.kind, body["kind"])
			if tt.contains != "" {
				assert.Contains(t, body["error"], tt.contains)
			}
			if tt.responder == nil {
				assert.Zero(t, ts.llm.GetTotalCallCount())
			}
		})
	}
}

func TestExportProducesDownloadablePDF(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"analysis":{"commonName":"Oil Sardine","species":"Sardinella longiceps","confidence":87,
		"characteristics":["Elongated body"],"similarSpecies":[{"name":"Goldstripe Sardinella","confidence":40}]}}`

	first := ts.do(exportRequest(payload))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := ts.do(exportRequest(payload))
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	url1 := decode(t, first)["url"].(string)
	url2 := decode(t, second)["url"].(string)
	assert.True(t, strings.HasPrefix(url1, "/static/reports/fish_report_"))
	assert.NotEqual(t, url1, url2)

	pdf1 := ts.do(httptest.NewRequest(http.MethodGet, url1, nil))
	pdf2 := ts.do(httptest.NewRequest(http.MethodGet, url2, nil))
	require.Equal(t, http.StatusOK, pdf1.Code)
	assert.True(t, strings.HasPrefix(pdf1.Body.String(), "%PDF-"))
	assert.Contains(t, pdf1.Body.String(), "Oil Sardine")
	assert.Contains(t, pdf1.Body.String(), "Sardinella longiceps")
	assert.Equal(t, pdf1.Body.Bytes(), pdf2.Body.Bytes())
}

func TestExportRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     string
		contains string
	}{
		{"analysis missing", `{}`, "missing_input", "missing"},
		{"analysis null", `{"analysis":null}`, "missing_input", "missing"},
		{"empty body", ``, "missing_input", "missing"},
		{"analysis not object", `{"analysis":"Oil Sardine"}`, "invalid_input", "JSON object"},
		{"wrong type", `{"analysis":{"commonName":"X","confidence":"high"}}`, "invalid_input", "confidence"},
		{"unknown field", `{"analysis":{"commonName":"X","script":"<x>"}}`, "invalid_input", "script"},
		{"no names", `{"analysis":{"family":"Clupeidae"}}`, "invalid_input", "commonName or species"},
		{"broken json", `{"analysis":`, "invalid_input", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(exportRequest(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.kind, body["kind"])
			if tt.contains != "" {
				assert.Contains(t, body["error"], tt.contains)
			}
		})
	}
}

func TestConvertTIFF(t *testing.T) {
	const src = "https://rasters.example.org/chl/2024-05.tif"
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil))

	ts := newTestServer(t)
	ts.rasters.RegisterResponder(http.MethodGet, src, httpmock.NewBytesResponder(http.StatusOK, buf.Bytes()))
	ts.rasters.RegisterResponder(http.MethodGet, "https://rasters.example.org/broken.tif",
		httpmock.NewStringResponder(http.StatusOK, "not a tiff"))

	// deflated blank raster: small on the wire, over the pixel budget once declared
	var wide bytes.Buffer
	require.NoError(t, tiff.Encode(&wide, image.NewGray(image.Rect(0, 0, 1100, 1000)), &tiff.Options{Compression: tiff.Deflate}))
	require.Less(t, wide.Len(), 1<<20)
	ts.rasters.RegisterResponder(http.MethodGet, "https://rasters.example.org/wide.tif",
		httpmock.NewBytesResponder(http.StatusOK, wide.Bytes()))

	t.Run("missing url", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Missing TIFF URL"}`, rec.Body.String())
	})

	t.Run("internal address", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff?url=http://169.254.169.254/latest", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, ts.rasters.GetTotalCallCount())
	})

	t.Run("converted then cached", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff?url="+src, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

		again := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff?url="+src, nil))
		assert.Equal(t, "HIT", again.Header().Get("X-Cache"))
	})

	t.Run("decode failure", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff?url=https://rasters.example.org/broken.tif", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "TIFF conversion failed", body["error"])
		assert.NotEmpty(t, body["details"])
	})

	t.Run("declared size over budget", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/convert-tiff?url=https://rasters.example.org/wide.tif", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "TIFF conversion failed", body["error"])
		assert.Contains(t, body["details"], "1100x1000")
	})
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	ts.assistant.RegisterResponder(http.MethodPost, assistantURL+"/chat/completions",
		httpmock.NewStringResponder(http.StatusOK, completion("Oil sardines feed on phytoplankton.")))

	chat := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(req)
	}

	rec := chat(`{"message":"What do oil sardines eat?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"response":"Oil sardines feed on phytoplankton."}`, rec.Body.String())

	for _, body := range []string{`{}`, `{"message":"  "}`, `garbage`} {
		rec = chat(body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String())
	}
	assert.Equal(t, 1, ts.assistant.GetTotalCallCount())
}

func TestChatAssistantFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.assistant.RegisterResponder(http.MethodPost, assistantURL+"/chat/completions",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"index unavailable","type":"server_error"}}`))

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	rec := ts.do(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Assistant failed", body["error"])
	assert.Contains(t, body["details"], "index unavailable")
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	health := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"storage"`)

	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	_ = ts.do(exportRequest(`{}`))
	metrics := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `fish_pipeline_runs_total{error_kind="missing_input",kind="export",status="failed"} 1`)

	// directory listings stay hidden
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/static/uploads/", nil)).Code)
}
