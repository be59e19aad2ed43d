package handler

import (
	"context"
	"net/http"
	"time"

	"tariffsync/internal/config"
	"tariffsync/internal/db"
	"tariffsync/internal/jobs"

	"gorm.io/gorm"
)

// TokenSource checks Podio credentials.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type DiagHandler struct {
	DB     *gorm.DB
	Repo   *jobs.Repo
	Config config.Config
	Podio  TokenSource
}

// Diag reports database health, job counts and which integrations are
// configured. Secrets are never echoed. ?podio=1 also tries a token grant.
func (h *DiagHandler) Diag(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out := map[string]any{
		"configured": map[string]bool{
			"podio":          h.Config.Podio.Configured(),
			"supabase":       h.Config.Supabase.Configured(),
			"local_storage":  h.Config.Storage.Dir != "",
			"openai":         h.Config.OpenAI.APIKey != "",
			"webhook_secret": h.Config.WebhookSecret != "",
			"ops_auth":       h.Config.OpsJWTSecret != "",
		},
		"worker": map[string]any{
			"id":    h.Config.Worker.ID,
			"lease": h.Config.Worker.Lease.String(),
		},
	}
	status := http.StatusOK

	if err := db.Ping(h.DB); err != nil {
		out["db"] = map[string]any{"ok": false, "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		out["db"] = map[string]any{"ok": true}
		if counts, err := h.Repo.CountByStatus(ctx); err == nil {
			out["jobs"] = counts
		}
	}

	if r.URL.Query().Get("podio") == "1" && h.Podio != nil {
		if _, err := h.Podio.AccessToken(ctx); err != nil {
			out["podio"] = map[string]any{"ok": false, "error": err.Error()}
		} else {
			out["podio"] = map[string]any{"ok": true}
		}
	}
	writeJSON(w, status, out)
}
