package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salecollect/server/internal/ingest"
	"salecollect/server/internal/models"
)

const (
	saleLine = "B;123;456;x;x;Name;1A;10;Main St;Suburb;2000;500;sq.m;2024-01-01;2024-02-01;750000;ZoneA;Sale;House;Vacant\n"

	// Same property and unit as saleLine, settled a month later.
	resaleLine = "B;123;456;x;x;Name;1A;10;Main St;Suburb;2000;500;sq.m;2024-02-01;2024-03-01;800000;ZoneA;Sale;House;Vacant\n"
)

// MockUploader is a mock blob-store collaborator.
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	args := m.Called(filename, size)
	return args.String(0), args.Error(1)
}

func (m *MockUploader) ObjectURL(filename string) string {
	args := m.Called(filename)
	return args.String(0)
}

// MockRecordInserter is a mock key-value persistence collaborator.
type MockRecordInserter struct {
	mock.Mock
}

func (m *MockRecordInserter) InsertEvents(ctx context.Context, events []models.Event) (int, error) {
	args := m.Called(events)
	return args.Int(0), args.Error(1)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestRouter(t *testing.T, blob Uploader, records RecordInserter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orchestrator := ingest.NewOrchestrator(newTestLogger(), 1<<20, 2)
	handler := NewHandler(orchestrator, blob, records, newTestLogger())

	router := gin.New()
	SetupRoutes(router, handler)
	return router
}

// salesDirectory builds the expected feed layout: one subfolder per period,
// each holding .DAT files.
func salesDirectory(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "folder1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "folder1", "file1.DAT"), []byte(saleLine), 0o644))
	return root
}

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// postArchive sends a multipart request carrying an archive plus optional
// form fields.
func postArchive(t *testing.T, router *gin.Engine, path string, archive []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "input.zip")
	require.NoError(t, err)
	_, err = part.Write(archive)
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "specify an endpoint")
}

func TestParseDirectory_Success(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	w := postJSON(router, "/collection/parse", gin.H{"directory_path": salesDirectory(t)})
	require.Equal(t, http.StatusOK, w.Code)

	var ds models.Dataset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	assert.Equal(t, "NSW Valuer General", ds.DataSource)
	assert.Equal(t, "2024", ds.DatasetID)
	require.Len(t, ds.Events, 1)
	assert.Equal(t, 456, *ds.Events[0].Attribute.PropertyID)
}

func TestParseDirectory_DownloadAttachment(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	w := postJSON(router, "/collection/parse?download=true", gin.H{"directory_path": salesDirectory(t)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}

func TestParseDirectory_Rejections(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	tests := []struct {
		name       string
		body       gin.H
		wantStatus int
		wantError  string
	}{
		{
			name:       "no path",
			body:       gin.H{},
			wantStatus: http.StatusBadRequest,
			wantError:  "bad_request",
		},
		{
			name:       "not a directory",
			body:       gin.H{"directory_path": "/definitely/not/here"},
			wantStatus: http.StatusBadRequest,
			wantError:  "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/collection/parse", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}
}

func TestParseDirectory_NoDataFound(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	w := postJSON(router, "/collection/parse", gin.H{"directory_path": t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no_data_found")
}

func TestParseUpload_Success(t *testing.T) {
	router := setupTestRouter(t, nil, nil)
	archive := zipBytes(t, map[string][]byte{"folder/file.DAT": []byte(saleLine)})

	w := postArchive(t, router, "/collection/upload", archive, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ds models.Dataset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	require.Len(t, ds.Events, 1)
	assert.Equal(t, 456, *ds.Events[0].Attribute.PropertyID)
}

func TestParseUpload_DeduplicateOption(t *testing.T) {
	router := setupTestRouter(t, nil, nil)
	archive := zipBytes(t, map[string][]byte{"folder/file.DAT": []byte(saleLine + resaleLine)})

	// Off by default: both sales survive.
	w := postArchive(t, router, "/collection/upload", archive, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ds models.Dataset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	assert.Len(t, ds.Events, 2)

	// The form field reaches the orchestrator and collapses the pair to
	// the later settlement.
	w = postArchive(t, router, "/collection/upload", archive, map[string]string{"deduplicate": "true"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	require.Len(t, ds.Events, 1)
	assert.Equal(t, "2024-03-01", ds.Events[0].Attribute.SettlementDate)
}

func TestParseURL_NoURL(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	w := postJSON(router, "/collection/url", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreEvents_RequiresExactlyOneSource(t *testing.T) {
	router := setupTestRouter(t, nil, nil)

	w := postJSON(router, "/collection/store", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(router, "/collection/store", gin.H{
		"directory_path": "/tmp/x",
		"url":            "http://example.com/a.zip",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exactly one")
}

func TestStoreEvents_Success(t *testing.T) {
	records := &MockRecordInserter{}
	records.On("InsertEvents", mock.Anything).Return(1, nil).Once()
	router := setupTestRouter(t, nil, records)

	w := postJSON(router, "/collection/store", gin.H{"directory_path": salesDirectory(t)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"inserted":1`)
	records.AssertExpectations(t)
}

func TestStoreEvents_UploadSource(t *testing.T) {
	records := &MockRecordInserter{}
	records.On("InsertEvents", mock.Anything).Return(1, nil).Once()
	router := setupTestRouter(t, nil, records)

	archive := zipBytes(t, map[string][]byte{"folder/file.DAT": []byte(saleLine)})
	w := postArchive(t, router, "/collection/store", archive, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"inserted":1`)
	records.AssertExpectations(t)
}

func TestStoreEvents_CollaboratorFailure(t *testing.T) {
	records := &MockRecordInserter{}
	records.On("InsertEvents", mock.Anything).Return(0, assert.AnError).Once()
	router := setupTestRouter(t, nil, records)

	w := postJSON(router, "/collection/store", gin.H{"directory_path": salesDirectory(t)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestUploadFile(t *testing.T) {
	blob := &MockUploader{}
	blob.On("Upload", "data.zip", mock.Anything).
		Return("https://sales-data.s3.ap-southeast-2.amazonaws.com/uploads/data.zip", nil).Once()
	router := setupTestRouter(t, blob, nil)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "data.zip")
	require.NoError(t, err)
	_, err = part.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "uploads/data.zip")
	blob.AssertExpectations(t)
}

func TestUploadFile_NoFile(t *testing.T) {
	router := setupTestRouter(t, &MockUploader{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadFromBlob(t *testing.T) {
	blob := &MockUploader{}
	blob.On("ObjectURL", "report.json").
		Return("https://sales-data.s3.ap-southeast-2.amazonaws.com/uploads/report.json").Once()
	router := setupTestRouter(t, blob, nil)

	req := httptest.NewRequest(http.MethodGet, "/download-from-s3/report.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_url")
	assert.Contains(t, w.Body.String(), "uploads/report.json")
	blob.AssertExpectations(t)
}
