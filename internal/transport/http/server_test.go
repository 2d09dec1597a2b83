package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"legalrag/internal/ai"
	"legalrag/internal/app"
	"legalrag/internal/bootstrap"
	"legalrag/internal/config"
	"legalrag/internal/docstore"
	"legalrag/internal/model"
	"legalrag/internal/vectorindex"
)

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Details   map[string]any  `json:"details"`
}

type testServer struct {
	router *gin.Engine
	app    *bootstrap.App
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	store, err := docstore.NewFSStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	index, err := vectorindex.OpenBolt(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	emb, err := ai.NewHashEmbedder("test-model", 32, true)
	require.NoError(t, err)
	settings, err := app.NewSettings(
		model.ChunkingConfig{ChunkSize: 500, ChunkOverlap: 50, Separator: "\n\n"},
		model.EmbeddingConfig{Provider: "hash", ModelName: "test-model", Device: "cpu", Normalize: true, Dimension: 32},
		model.RetrievalConfig{K: 3, SearchType: model.SearchTypeSimilarity, FetchK: 10, LambdaMult: 0.5},
	)
	require.NoError(t, err)
	admin, err := app.NewAdminService(app.AdminDeps{Store: store, Index: index, Embedder: emb, Settings: settings})
	require.NoError(t, err)
	t.Cleanup(admin.Wait)

	cfg := &config.Config{
		App: config.AppConfig{Name: "legalrag-test", Env: "test", GinMode: gin.TestMode},
		Auth: config.AuthConfig{
			Enabled:         true,
			AdminUsername:   "admin",
			AdminPassword:   "s3cret",
			JWTSecret:       "test-secret",
			JWTExpireMinute: 5,
		},
		Storage: config.StorageConfig{MaxUploadMB: 1},
	}
	auth, err := app.NewAuthService(cfg.Auth)
	require.NoError(t, err)

	a := &bootstrap.App{Config: cfg, Logger: zap.NewNop(), Admin: admin, Auth: auth, StartedAt: time.Now()}
	ts := &testServer{router: NewRouter(a), app: a}

	res, err := auth.Login(app.LoginInput{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	ts.token = res.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if ts.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (ts *testServer) upload(t *testing.T, filename, docType string, data []byte, fields map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("document_type", docType))
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.serve(t, req)
}

func words(n int) []byte {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("section%05d", i)
	}
	return []byte(strings.Join(parts, " "))
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["components"], "vector_index")
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/documents", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w, env := ts.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "UNAUTHORIZED", env.ErrorCode)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	w, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.ErrorCode)

	w, env = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)

	w, env = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	var res app.AuthResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, int64(300), res.ExpiresIn)
}

func TestDocumentRoutes(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.upload(t, "ipc.txt", "ipc", words(400), nil)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	assert.Equal(t, "success", env.Status)
	var up app.UploadResult
	require.NoError(t, json.Unmarshal(env.Data, &up))
	assert.Greater(t, up.ProcessingStats.ChunksCreated, 0)
	assert.Equal(t, 500, up.ChunkConfig.ChunkSize)

	w, env = ts.upload(t, "ipc.txt", "ipc", words(10), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DOCUMENT_EXISTS", env.ErrorCode)

	w, _ = ts.upload(t, "ipc.txt", "ipc", words(10), map[string]string{"overwrite": "true", "chunk_size": "200", "chunk_overlap": "20"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = ts.upload(t, "notes.docx", "ipc", words(10), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_FILE_TYPE", env.ErrorCode)

	w, env = ts.upload(t, "a.txt", "ipc", words(10), map[string]string{"chunk_size": "big"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)

	w, env = ts.upload(t, "huge.txt", "ipc", bytes.Repeat([]byte("a "), 600<<10), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list app.DocumentList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Documents, 1)
	assert.True(t, list.Documents[0].InVectorstore)

	w, env = ts.do(t, http.MethodPost, "/api/v1/admin/reprocess", map[string]any{"filename": "ipc.txt", "chunk_size": 300, "chunk_overlap": 30})
	require.Equal(t, http.StatusOK, w.Code, env.Message)

	w, env = ts.do(t, http.MethodDelete, "/api/v1/admin/documents?filename=ipc.txt", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	var del app.DeleteResult
	require.NoError(t, json.Unmarshal(env.Data, &del))
	assert.Greater(t, del.ChunksRemoved, 0)

	w, env = ts.do(t, http.MethodDelete, "/api/v1/admin/documents", map[string]string{"filename": "ipc.txt"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "FILE_NOT_FOUND", env.ErrorCode)
	assert.Contains(t, env.Details, "searched_folders")
}

func TestVectorStoreRoutes(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.upload(t, "bns.txt", "bns", words(300), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := ts.do(t, http.MethodPost, "/api/v1/admin/vectorstore/search", map[string]any{"query": "section00001 section00002", "k": 2})
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	var found app.SearchResult
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Len(t, found.Results, 2)

	w, env = ts.do(t, http.MethodPost, "/api/v1/admin/vectorstore/search", map[string]any{"query": "x", "k": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/admin/vectorstore/retrieve", map[string]any{"query": "section00010"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/vectorstore/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats app.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 32, stats.EmbeddingDimension)

	w, env = ts.do(t, http.MethodPost, "/api/v1/admin/vectorstore/rebuild", map[string]any{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFIRMATION_REQUIRED", env.ErrorCode)

	w, env = ts.do(t, http.MethodPost, "/api/v1/admin/vectorstore/rebuild", map[string]any{"confirm": true})
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	var started app.RebuildStarted
	require.NoError(t, json.Unmarshal(env.Data, &started))
	ts.app.Admin.Wait()

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/vectorstore/rebuild/"+started.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job model.RebuildJob
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, model.JobStatusCompleted, job.Status)

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/vectorstore/rebuild/rebuild_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", env.ErrorCode)

	w, env = ts.do(t, http.MethodDelete, "/api/v1/admin/vectorstore/clear", map[string]string{"confirm_token": "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFIRMATION_REQUIRED", env.ErrorCode)

	w, env = ts.do(t, http.MethodDelete, "/api/v1/admin/vectorstore/clear?confirm_token="+app.ClearConfirmToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared app.ClearResult
	require.NoError(t, json.Unmarshal(env.Data, &cleared))
	assert.Greater(t, cleared.ChunksDeleted, 0)
	assert.Equal(t, 1, cleared.DocumentsPreserved)

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/vectorstore/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "BACKEND_UNAVAILABLE", env.ErrorCode)
}

func TestConfigRoutes(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPut, "/api/v1/admin/config/chunking", map[string]any{"chunk_size": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)
	assert.Contains(t, env.Details["fields"], "chunk_size")

	w, env = ts.do(t, http.MethodPut, "/api/v1/admin/config/chunking", map[string]any{"chunk_size": 800})
	require.Equal(t, http.StatusOK, w.Code)
	var upd app.ConfigUpdate[model.ChunkingConfig]
	require.NoError(t, json.Unmarshal(env.Data, &upd))
	assert.Equal(t, 500, upd.Previous.ChunkSize)
	assert.Equal(t, 800, upd.Current.ChunkSize)
	assert.Equal(t, 50, upd.Current.ChunkOverlap)

	w, env = ts.do(t, http.MethodPut, "/api/v1/admin/config/retrieval", map[string]any{"search_type": "mmr", "k": 4})
	require.Equal(t, http.StatusOK, w.Code, env.Message)

	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all app.AllConfig
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Equal(t, model.SearchTypeMMR, all.Retrieval.SearchType)
	assert.Equal(t, 800, all.Chunking.ChunkSize)
	assert.Equal(t, "test-model", all.Embedding.ModelName)

	w, env = ts.do(t, http.MethodPut, "/api/v1/admin/config/embedding", map[string]any{"model_name": "wider", "dimension": 48})
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	w, env = ts.do(t, http.MethodGet, "/api/v1/admin/config/embedding", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var emb model.EmbeddingConfig
	require.NoError(t, json.Unmarshal(env.Data, &emb))
	assert.Equal(t, 48, emb.Dimension)
	assert.Equal(t, "hash", emb.Provider)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/v1/admin/config", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}
