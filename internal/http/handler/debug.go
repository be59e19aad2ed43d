package handler

import (
	"context"
	"net/http"
	"strconv"

	"tariffsync/internal/podio"

	"github.com/go-chi/chi/v5"
)

type ItemSource interface {
	GetItem(ctx context.Context, itemID int64) (*podio.Item, error)
	GetFile(ctx context.Context, fileID int64) (*podio.File, error)
}

type DebugHandler struct {
	Podio ItemSource
}

// ItemFiles lists an item's attachments and the metadata of the first one.
func (h *DebugHandler) ItemFiles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	item, err := h.Podio.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	out := map[string]any{"item_id": item.ItemID, "app_id": item.App.AppID, "files": item.Files}
	if len(item.Files) > 0 {
		if meta, err := h.Podio.GetFile(r.Context(), item.Files[0].FileID); err == nil {
			out["first_file"] = meta
		} else {
			out["first_file_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}
