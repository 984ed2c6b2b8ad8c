package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"salecollect/server/internal/ingest"
	"salecollect/server/internal/models"
)

// Uploader is the blob-store collaborator as the handlers see it.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
	ObjectURL(filename string) string
}

// RecordInserter is the key-value persistence collaborator.
type RecordInserter interface {
	InsertEvents(ctx context.Context, events []models.Event) (int, error)
}

// Handler carries the request-scoped collaborators. All dependencies are
// constructed at startup and injected; there is no package-level state.
type Handler struct {
	orchestrator *ingest.Orchestrator
	blob         Uploader
	records      RecordInserter
	logger       *logrus.Logger
}

// ParseRequest selects exactly one input source for an ingestion request.
type ParseRequest struct {
	DirectoryPath string `json:"directory_path"`
	URL           string `json:"url"`
	DatasetID     string `json:"dataset_id"`
	Deduplicate   bool   `json:"deduplicate"`
}

func NewHandler(orchestrator *ingest.Orchestrator, blob Uploader, records RecordInserter, logger *logrus.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		blob:         blob,
		records:      records,
		logger:       logger,
	}
}

// Root rejects bare requests; the service has no landing resource.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":  "not_found",
		"detail": "data collection service, please specify an endpoint",
	})
}

// ParseDirectory ingests .DAT files from a local directory path.
func (h *Handler) ParseDirectory(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "invalid request body"})
		return
	}
	h.logger.WithField("directory", req.DirectoryPath).Info("Parsing local directory")

	ds, err := h.orchestrator.IngestDirectory(c.Request.Context(), req.DirectoryPath, ingest.Options{
		DatasetID:        req.DatasetID,
		DeduplicateSales: req.Deduplicate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondDataset(c, ds)
}

// ParseUpload ingests an uploaded archive file.
func (h *Handler) ParseUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "no file provided"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	h.logger.WithFields(logrus.Fields{
		"filename": fileHeader.Filename,
		"size":     fileHeader.Size,
	}).Info("Parsing uploaded archive")

	ds, err := h.orchestrator.IngestUpload(c.Request.Context(), file, fileHeader.Size, ingest.Options{
		DatasetID:        c.PostForm("dataset_id"),
		DeduplicateSales: c.PostForm("deduplicate") == "true",
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondDataset(c, ds)
}

// ParseURL downloads an archive and ingests it.
func (h *Handler) ParseURL(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "no url provided"})
		return
	}

	ds, err := h.orchestrator.IngestURL(c.Request.Context(), req.URL, ingest.Options{
		DatasetID:        req.DatasetID,
		DeduplicateSales: req.Deduplicate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondDataset(c, ds)
}

// StoreEvents parses from any input source and persists the decoded
// records to the key-value store. A multipart body carries an uploaded
// archive; a JSON body selects exactly one of directory_path or url.
func (h *Handler) StoreEvents(c *gin.Context) {
	if c.ContentType() == "multipart/form-data" {
		h.storeFromUpload(c)
		return
	}

	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "invalid request body"})
		return
	}
	if (req.DirectoryPath == "") == (req.URL == "") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "bad_request",
			"detail": "provide exactly one of directory_path or url",
		})
		return
	}

	opts := ingest.Options{DatasetID: req.DatasetID, DeduplicateSales: req.Deduplicate}
	var (
		ds  *models.Dataset
		err error
	)
	if req.DirectoryPath != "" {
		ds, err = h.orchestrator.IngestDirectory(c.Request.Context(), req.DirectoryPath, opts)
	} else {
		ds, err = h.orchestrator.IngestURL(c.Request.Context(), req.URL, opts)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.persistEvents(c, ds)
}

// storeFromUpload ingests an uploaded archive and persists its records.
func (h *Handler) storeFromUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "no file provided"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	ds, err := h.orchestrator.IngestUpload(c.Request.Context(), file, fileHeader.Size, ingest.Options{
		DatasetID:        c.PostForm("dataset_id"),
		DeduplicateSales: c.PostForm("deduplicate") == "true",
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.persistEvents(c, ds)
}

// persistEvents hands the dataset's events to the persistence collaborator
// and reports the insertion count.
func (h *Handler) persistEvents(c *gin.Context, ds *models.Dataset) {
	inserted, err := h.records.InsertEvents(c.Request.Context(), ds.Events)
	if err != nil {
		h.logger.WithError(err).Error("Failed to insert events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("successfully inserted %d events into the database", inserted),
		"inserted": inserted,
	})
}

// UploadFile stores an arbitrary file in the blob store and returns its
// retrieval URL.
func (h *Handler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "no file provided"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	url, err := h.blob.Upload(c.Request.Context(), fileHeader.Filename, file, fileHeader.Size)
	if err != nil {
		h.logger.WithError(err).Error("Blob upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file uploaded successfully", "file_url": url})
}

// DownloadFromBlob constructs the retrieval URL for a previously uploaded
// file. No existence check is made.
func (h *Handler) DownloadFromBlob(c *gin.Context) {
	fileName := c.Param("file_name")
	c.JSON(http.StatusOK, gin.H{"download_url": h.blob.ObjectURL(fileName)})
}

// respondDataset writes the dataset inline, or as a downloadable attachment
// when ?download=true.
func (h *Handler) respondDataset(c *gin.Context, ds *models.Dataset) {
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", `attachment; filename="dataset.json"`)
		c.JSON(http.StatusOK, ds)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// respondError maps rejection classes to HTTP statuses. Anything outside
// the taxonomy is an internal error carrying the underlying cause.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "detail": err.Error()})
	case errors.Is(err, ingest.ErrInsufficientStorage):
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": "insufficient_storage", "detail": err.Error()})
	case errors.Is(err, ingest.ErrNoDataFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_data_found", "detail": err.Error()})
	case errors.Is(err, ingest.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}
