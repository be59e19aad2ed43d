package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tariffsync/internal/classifier"
	"tariffsync/internal/documents"
	"tariffsync/internal/podio"
)

// maxClassifyBody caps the JSON body of a direct classification request.
const maxClassifyBody = 32 << 20

// ClassifyHandler classifies uploaded files directly, without an item,
// storage or writeback. Images are sent inline.
type ClassifyHandler struct {
	Extractor    *documents.Extractor
	Classifier   *classifier.Orchestrator
	InlineMaxDim int
}

type uploadedFile struct {
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Base64   string `json:"base64"`
}

type classifyRequest struct {
	Text  string         `json:"text"`
	Files []uploadedFile `json:"files"`
}

// uploads serves decoded request files to the document pipeline.
type uploads map[int64]*podio.Download

func (u uploads) DownloadRaw(_ context.Context, fileID int64) (*podio.Download, error) {
	if d, ok := u[fileID]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("upload %d not found", fileID)
}

func (u uploads) GetFile(context.Context, int64) (*podio.File, error) {
	return nil, documents.ErrNoDownloadLink
}

func (u uploads) DownloadLink(context.Context, string) (*podio.Download, error) {
	return nil, documents.ErrNoDownloadLink
}

func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClassifyBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}

	src := uploads{}
	files := make([]podio.File, 0, len(req.Files))
	for i, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Base64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": fmt.Sprintf("files[%d]: invalid base64", i)})
			return
		}
		id := int64(i + 1)
		src[id] = &podio.Download{Data: data}
		files = append(files, podio.File{FileID: id, Name: f.Filename, Mimetype: f.Mime})
	}

	p := &documents.Pipeline{Source: src, Extractor: h.Extractor, Concurrency: 2, InlineMaxDim: h.InlineMaxDim}
	out, err := p.Run(r.Context(), 0, files)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	texts := out.Texts
	if strings.TrimSpace(req.Text) != "" {
		texts = append([]string{req.Text}, texts...)
	}
	cls, err := h.Classifier.Classify(r.Context(), texts, out.Images)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	skipped := make([]map[string]string, 0, len(out.Skipped))
	for _, s := range out.Skipped {
		skipped = append(skipped, map[string]string{"filename": s.File.Name, "reason": s.Reason})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"skipped":       cls.Skipped,
		"model":         cls.ModelVersion,
		"result":        cls.Result,
		"files_skipped": skipped,
	})
}
