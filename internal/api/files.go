package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheetflow/sheetflow/internal/catalog"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/dataset"
	"github.com/sheetflow/sheetflow/internal/observability"
	"github.com/sheetflow/sheetflow/internal/storage"
)

// rootFolderID is the path segment that addresses the top level of an
// account's tree, where files live outside any folder.
const rootFolderID = "root"

func handleListFiles(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	folderRef, ok := folderRefFromPath(deps, w, r, ownerID)
	if !ok {
		return
	}

	files, err := deps.Catalog.ListFiles(r.Context(), ownerID, folderRef)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list files", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, fileJSON(file))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": items})
}

func handleUploadFile(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	folderRef, ok := folderRefFromPath(deps, w, r, ownerID)
	if !ok {
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name query parameter is required", false, nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, cfg.Files.UploadMaxBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("upload exceeds the %d byte limit", cfg.Files.UploadMaxBytes), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_READ_FAILED", "failed to read upload body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(data) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "BODY_REQUIRED", "upload body is empty", false, nil)
		return
	}

	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	digest := sha256.Sum256(data)
	checksum := hex.EncodeToString(digest[:])

	objectKey, err := storage.FileObjectKey(ownerID, uuid.NewString(), name)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_INVALID", err.Error(), false, nil)
		return
	}
	if _, err := deps.Store.Put(r.Context(), objectKey, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: contentType}); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "OBJECT_WRITE_FAILED", "failed to store file content", true, map[string]any{"details": err.Error()})
		return
	}

	file, err := deps.Catalog.CreateFile(r.Context(), catalog.CreateFileInput{
		OwnerID:     ownerID,
		FolderID:    folderRef,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		ObjectKey:   objectKey,
		Checksum:    checksum,
	})
	if err != nil {
		// The object write is compensated so a failed catalog insert does
		// not leave unreachable data behind.
		if deleteErr := deps.Store.Delete(r.Context(), objectKey); deleteErr != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "failed to compensate orphaned object",
				slog.String("object_key", objectKey),
				slog.String("error", deleteErr.Error()),
			)
		}
		switch {
		case errors.Is(err, catalog.ErrExists):
			writeError(r.Context(), w, http.StatusConflict, "FILE_EXISTS", "a file with this name already exists here", false, nil)
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "FOLDER_NOT_FOUND", "folder was not found", false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to record file", true, map[string]any{"details": err.Error()})
		}
		return
	}

	observability.ObserveUpload(file.SizeBytes)
	writeJSON(w, http.StatusCreated, fileJSON(file))
}

func handleGetFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileJSON(file))
}

func handleRenameFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	var req folderRenameRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid rename file request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}

	file, err := deps.Catalog.RenameFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")), name)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "FILE_NOT_FOUND", "file was not found", false, nil)
		case errors.Is(err, catalog.ErrExists):
			writeError(r.Context(), w, http.StatusConflict, "FILE_EXISTS", "a file with this name already exists here", false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to rename file", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, fileJSON(file))
}

func handleDeleteFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	file, err := deps.Catalog.DeleteFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}
	if deps.Store != nil {
		if err := deps.Store.Delete(r.Context(), file.ObjectKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "failed to delete object for removed file",
				slog.String("object_key", file.ObjectKey),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "file_id": file.FileID})
}

func handleFileContent(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "file dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}

	reader, err := deps.Store.Get(r.Context(), file.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_MISSING", "file content is missing from storage", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "OBJECT_READ_FAILED", "failed to read file content", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if file.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func handleFileURL(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "file dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}

	expiry := cfg.Files.PresignExpiry
	if raw := strings.TrimSpace(r.URL.Query().Get("expiry")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "EXPIRY_INVALID", "expiry must be a positive duration such as 15m", false, nil)
			return
		}
		expiry = parsed
	}
	if cfg.Files.PresignMaxExpiry > 0 && expiry > cfg.Files.PresignMaxExpiry {
		expiry = cfg.Files.PresignMaxExpiry
	}

	signedURL, err := deps.Store.PresignGet(r.Context(), file.ObjectKey, expiry)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_MISSING", "file content is missing from storage", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PRESIGN_FAILED", "failed to create temporary url", true, map[string]any{"details": err.Error()})
		return
	}

	observability.IncrementPresignedURL()
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        signedURL,
		"expires_in": expiry.String(),
	})
}

func handleFilePreview(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Dataset == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PREVIEW_NOT_CONFIGURED", "preview dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "LIMIT_INVALID", "limit must be a positive integer", false, nil)
			return
		}
	}

	format, err := dataset.DetectFormat(file.Name, file.ContentType)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "file is not a csv, xlsx or parquet sheet", false, nil)
		return
	}

	table, err := deps.Dataset.Preview(r.Context(), file.ObjectKey, format, limit)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_MISSING", "file content is missing from storage", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PREVIEW_FAILED", "failed to read file", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func handleFileSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Dataset == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}

	format, err := dataset.DetectFormat(file.Name, file.ContentType)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "file is not a csv, xlsx or parquet sheet", false, nil)
		return
	}

	schema, err := deps.Dataset.SheetSchema(r.Context(), file.ObjectKey, format)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_MISSING", "file content is missing from storage", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FAILED", "failed to extract sheet schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func handleFileExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Dataset == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	file, err := deps.Catalog.GetFile(r.Context(), ownerID, strings.TrimSpace(r.PathValue("fileID")))
	if err != nil {
		writeFileLookupError(w, r, err)
		return
	}

	target := dataset.FormatCSV
	if raw := strings.TrimSpace(r.URL.Query().Get("format")); raw != "" {
		switch dataset.Format(strings.ToLower(raw)) {
		case dataset.FormatCSV, dataset.FormatXLSX, dataset.FormatParquet:
			target = dataset.Format(strings.ToLower(raw))
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "FORMAT_INVALID", "format must be csv, xlsx or parquet", false, nil)
			return
		}
	}

	source, err := dataset.DetectFormat(file.Name, file.ContentType)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "file is not a csv, xlsx or parquet sheet", false, nil)
		return
	}

	result, err := deps.Dataset.Export(r.Context(), file.ObjectKey, source, target, file.Name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_MISSING", "file content is missing from storage", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export file", true, map[string]any{"details": err.Error()})
		return
	}

	observability.ObserveExport(string(target), result.Rows)
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// folderRefFromPath turns the folderID path segment into a nullable folder
// reference, verifying ownership for real folders. The "root" segment maps to
// nil. Writes the error response itself when resolution fails.
func folderRefFromPath(deps Dependencies, w http.ResponseWriter, r *http.Request, ownerID string) (*string, bool) {
	folderID := strings.TrimSpace(r.PathValue("folderID"))
	if folderID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FOLDER_REQUIRED", "folderID path parameter is required", false, nil)
		return nil, false
	}
	if folderID == rootFolderID {
		return nil, true
	}
	if _, err := deps.Catalog.GetFolder(r.Context(), ownerID, folderID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "FOLDER_NOT_FOUND", "folder was not found", false, nil)
			return nil, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to resolve folder", true, map[string]any{"details": err.Error()})
		return nil, false
	}
	return &folderID, true
}

func writeFileLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "FILE_NOT_FOUND", "file was not found", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load file", true, map[string]any{"details": err.Error()})
}

func fileJSON(file catalog.File) map[string]any {
	return map[string]any{
		"file_id":      file.FileID,
		"folder_id":    file.FolderID,
		"name":         file.Name,
		"content_type": file.ContentType,
		"size_bytes":   file.SizeBytes,
		"checksum":     file.Checksum,
		"created_at":   file.CreatedAt,
		"updated_at":   file.UpdatedAt,
	}
}
