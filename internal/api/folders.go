package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sheetflow/sheetflow/internal/catalog"
)

type folderCreateRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type folderRenameRequest struct {
	Name string `json:"name"`
}

func handleCreateFolder(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FOLDERS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	var req folderCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create folder request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}

	if req.ParentID != nil {
		if _, err := deps.Catalog.GetFolder(r.Context(), ownerID, *req.ParentID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				writeError(r.Context(), w, http.StatusNotFound, "PARENT_NOT_FOUND", "parent folder was not found", false, nil)
				return
			}
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to resolve parent folder", true, map[string]any{"details": err.Error()})
			return
		}
	}

	folder, err := deps.Catalog.CreateFolder(r.Context(), catalog.CreateFolderInput{
		OwnerID:  ownerID,
		ParentID: req.ParentID,
		Name:     name,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrExists):
			writeError(r.Context(), w, http.StatusConflict, "FOLDER_EXISTS", "a folder with this name already exists here", false, nil)
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "PARENT_NOT_FOUND", "parent folder was not found", false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to create folder", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusCreated, folderJSON(folder))
}

func handleListFolders(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FOLDERS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	var parentID *string
	if parent := strings.TrimSpace(r.URL.Query().Get("parent")); parent != "" {
		parentID = &parent
	}

	folders, err := deps.Catalog.ListFolders(r.Context(), ownerID, parentID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list folders", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderJSON(folder))
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": items})
}

func handleRenameFolder(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FOLDERS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	folderID := strings.TrimSpace(r.PathValue("folderID"))
	if folderID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FOLDER_REQUIRED", "folderID path parameter is required", false, nil)
		return
	}

	var req folderRenameRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid rename folder request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}

	folder, err := deps.Catalog.RenameFolder(r.Context(), ownerID, folderID, name)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "FOLDER_NOT_FOUND", "folder was not found", false, nil)
		case errors.Is(err, catalog.ErrExists):
			writeError(r.Context(), w, http.StatusConflict, "FOLDER_EXISTS", "a folder with this name already exists here", false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to rename folder", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, folderJSON(folder))
}

func handleDeleteFolder(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FOLDERS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	folderID := strings.TrimSpace(r.PathValue("folderID"))
	if folderID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FOLDER_REQUIRED", "folderID path parameter is required", false, nil)
		return
	}

	if err := deps.Catalog.DeleteFolder(r.Context(), ownerID, folderID); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "FOLDER_NOT_FOUND", "folder was not found", false, nil)
		case errors.Is(err, catalog.ErrFolderNotEmpty):
			writeError(r.Context(), w, http.StatusConflict, "FOLDER_NOT_EMPTY", "folder still contains folders or files", false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete folder", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "folder_id": folderID})
}

func folderJSON(folder catalog.Folder) map[string]any {
	return map[string]any{
		"folder_id":  folder.FolderID,
		"parent_id":  folder.ParentID,
		"name":       folder.Name,
		"created_at": folder.CreatedAt,
		"updated_at": folder.UpdatedAt,
	}
}
