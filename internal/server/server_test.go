package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/medisnap/internal/analyzer"
	"github.com/jo-hoe/medisnap/internal/common"
	"github.com/jo-hoe/medisnap/internal/config"
	"github.com/jo-hoe/medisnap/internal/history"
	"github.com/jo-hoe/medisnap/internal/medicine"
	"github.com/jo-hoe/medisnap/internal/storage"
)

const paracetamolJSON = `{"medicine_name":"Paracetamol","uses":"Pain relief","side_effects":"Nausea","dosage":"500mg","manufacturer":"Acme","precautions":"Avoid alcohol","expiry_date":"2026-01","composition":"Paracetamol 500mg"}`

type fakeLLM struct {
	out   string
	err   error
	calls int
}

func (f *fakeLLM) DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error) {
	f.calls++
	_, _ = io.Copy(io.Discard, r)
	return f.out, f.err
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:               ":0",
			MaxUploadSize:      config.ByteSize(10 * 1024 * 1024),
			RequestTimeout:     5 * time.Second,
			StorageDir:         dir,
			CORSAllowedOrigins: []string{"*"},
		},
	}
}

func newService(t *testing.T, model *fakeLLM, store history.Store) *Service {
	t.Helper()
	tmp := t.TempDir()
	return &Service{
		Log:      nil,
		Cfg:      testConfig(tmp),
		Uploader: storage.NewUploader(tmp),
		Analyzer: analyzer.New(nil, model, store, "", false, false),
		Store:    store,
	}
}

func makeMultipart(t *testing.T, fieldName, filename string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(content)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return w.FormDataContentType(), &b
}

func postImage(t *testing.T, h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	ctype, body := makeMultipart(t, "image", "pack.jpg", []byte("jpegbytes"))
	req := httptest.NewRequest(http.MethodPost, common.PathAnalyze, body)
	req.Header.Set("Content-Type", ctype)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v (%s)", err, rec.Body.String())
	}
	return body
}

func assertServerError(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != false || body["message"] != "Server Error" || body["error"] != code {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestWelcome(t *testing.T) {
	h := newService(t, &fakeLLM{}, nil).Routes()

	for _, body := range []string{"", `{"anything":true}`} {
		req := httptest.NewRequest(http.MethodGet, common.PathRoot, strings.NewReader(body))
		req.Header.Set("X-Random", "yes")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		got := decode(t, rec)
		if !reflect.DeepEqual(got, map[string]any{"msg": "WELCOME TO MEDI_SNAP"}) {
			t.Fatalf("unexpected body: %v", got)
		}
	}
}

func TestHealthz(t *testing.T) {
	h := newService(t, &fakeLLM{}, nil).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathHealthz, nil))
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyze_FencedJSONRelayed(t *testing.T) {
	model := &fakeLLM{out: "```json\n" + paracetamolJSON + "\n```"}
	h := newService(t, model, nil).Routes()

	rec := postImage(t, h, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	var want map[string]any
	_ = json.Unmarshal([]byte(paracetamolJSON), &want)
	if !reflect.DeepEqual(body["data"], want) {
		t.Fatalf("data = %v", body["data"])
	}
	if rec.Header().Get(common.HeaderAnalysisID) != "" {
		t.Fatalf("analysis id header set without history")
	}
}

func TestAnalyze_UnparseableOutputStillSucceeds(t *testing.T) {
	h := newService(t, &fakeLLM{out: "not json at all"}, nil).Routes()

	rec := postImage(t, h, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	data, _ := body["data"].(map[string]any)
	for _, f := range medicine.Fields {
		if data[f] != "Not available" {
			t.Fatalf("field %s = %v", f, data[f])
		}
	}
	if data["error"] != "Invalid response from AI" {
		t.Fatalf("error = %v", data["error"])
	}
}

func TestAnalyze_NoFile(t *testing.T) {
	model := &fakeLLM{out: "{}"}
	h := newService(t, model, nil).Routes()

	// multipart body with a different field name
	ctype, body := makeMultipart(t, "file", "pack.jpg", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, common.PathAnalyze, body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assertServerError(t, rec, analyzer.CodeUploadMissing)

	// no body at all
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, common.PathAnalyze, nil))
	assertServerError(t, rec, analyzer.CodeUploadMissing)

	if model.calls != 0 {
		t.Fatalf("model should not be called without a file")
	}
}

func TestAnalyze_MoreThanOneFile(t *testing.T) {
	model := &fakeLLM{out: paracetamolJSON}
	h := newService(t, model, nil).Routes()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range []string{"a.jpg", "b.jpg"} {
		fw, err := w.CreateFormFile("image", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write([]byte("jpegbytes"))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, common.PathAnalyze, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assertServerError(t, rec, analyzer.CodeUploadFailed)
	if model.calls != 0 {
		t.Fatalf("model should not be called for multiple files, got %d calls", model.calls)
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	svc := newService(t, &fakeLLM{out: "{}"}, nil)
	svc.Cfg.Server.MaxUploadSize = 64
	h := svc.Routes()

	ctype, body := makeMultipart(t, "image", "big.jpg", bytes.Repeat([]byte("x"), 4096))
	req := httptest.NewRequest(http.MethodPost, common.PathAnalyze, body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assertServerError(t, rec, analyzer.CodeUploadFailed)
}

func TestAnalyze_InferenceError(t *testing.T) {
	h := newService(t, &fakeLLM{err: errors.New("connection refused")}, nil).Routes()

	rec := postImage(t, h, nil)
	assertServerError(t, rec, analyzer.CodeInferenceFailed)
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("internal error details leaked: %s", rec.Body.String())
	}
}

func TestAnalyze_APIKey(t *testing.T) {
	svc := newService(t, &fakeLLM{out: "{}"}, nil)
	svc.Cfg.Server.APIKey = "secret"
	h := svc.Routes()

	rec := postImage(t, h, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = postImage(t, h, map[string]string{common.HeaderAPIKey: "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d: %s", rec.Code, rec.Body.String())
	}

	// the welcome route stays public
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathRoot, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("welcome should not need a key, got %d", rec.Code)
	}
}

func TestAnalyze_CORSPreflight(t *testing.T) {
	h := newService(t, &fakeLLM{}, nil).Routes()

	req := httptest.NewRequest(http.MethodOptions, common.PathAnalyze, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAnalyze_HistoryLookup(t *testing.T) {
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	h := newService(t, &fakeLLM{out: paracetamolJSON}, store).Routes()

	rec := postImage(t, h, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze: %d %s", rec.Code, rec.Body.String())
	}
	id := rec.Header().Get(common.HeaderAnalysisID)
	if id == "" {
		t.Fatalf("missing %s header", common.HeaderAnalysisID)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathAnalyses+"/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get analysis: %d %s", rec.Code, rec.Body.String())
	}
	data, _ := decode(t, rec)["data"].(map[string]any)
	if data["id"] != id || data["status"] != string(history.StatusSucceeded) || data["filename"] != "pack.jpg" {
		t.Fatalf("unexpected analysis: %v", data)
	}
	if data["raw_response"] != paracetamolJSON {
		t.Fatalf("raw response not stored: %v", data["raw_response"])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathAnalyses+"/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAnalyze_HistoryRecordsMissingUpload(t *testing.T) {
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	h := newService(t, &fakeLLM{}, store).Routes()

	ctype, body := makeMultipart(t, "file", "pack.jpg", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, common.PathAnalyze, body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assertServerError(t, rec, analyzer.CodeUploadMissing)

	id := rec.Header().Get(common.HeaderAnalysisID)
	if id == "" {
		t.Fatalf("missing %s header on rejected upload", common.HeaderAnalysisID)
	}
	a, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Status != history.StatusFailed || a.ErrorCode != analyzer.CodeUploadMissing {
		t.Fatalf("unexpected analysis: %+v", a)
	}
}

func TestAnalyses_NotRoutedWithoutHistory(t *testing.T) {
	h := newService(t, &fakeLLM{}, nil).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathAnalyses+"/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	var logs bytes.Buffer
	svc := newService(t, &fakeLLM{out: "{}"}, nil)
	svc.Cfg.Server.APIKey = "secret"
	svc.Log = slog.New(slog.NewTextHandler(&logs, nil))
	h := svc.Routes()

	_ = postImage(t, h, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, common.PathRoot, nil))

	out := logs.String()
	if !strings.Contains(out, "status=401") {
		t.Fatalf("unauthorized status not logged: %s", out)
	}
	if !strings.Contains(out, "path=/ status=200") {
		t.Fatalf("welcome status not logged: %s", out)
	}
}

func TestNewHTTPServer_UsesConfig(t *testing.T) {
	svc := newService(t, &fakeLLM{}, nil)
	svc.Cfg.Server.ReadTimeout = 3 * time.Second
	srv := NewHTTPServer(svc)
	if srv.Addr != ":0" || srv.ReadTimeout != 3*time.Second || srv.Handler == nil {
		t.Fatalf("unexpected server: %+v", srv)
	}
}
