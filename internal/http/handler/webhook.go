package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tariffsync/internal/dedup"
	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"
	"tariffsync/internal/metrics"
)

const maxWebhookBody = 1 << 20

// Enqueuer admits jobs. *jobs.Repo satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *jobs.Job) error
}

// WebhookHandler is the notification gateway. It does bounded work only
// and never lets a sender see an error it might retry on.
type WebhookHandler struct {
	Jobs   Enqueuer
	Dedup  *dedup.Cache
	Secret string
}

var (
	itemPaths     = []string{"item_id", "itemId", "item.item_id", "data.item_id", "data.item.item_id"}
	appPaths      = []string{"app_id", "appId", "item.app.app_id", "data.app_id", "data.item.app.app_id"}
	revisionPaths = []string{"item_revision_id", "revision_id", "revision", "data.revision_id"}
	hookPaths     = []string{"hook_id", "hookId"}
)

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.Secret != "" && !h.authorized(r) {
		metrics.WebhookRequests.WithLabelValues("rejected").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	raw, _ := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	body := parseBody(r.Header.Get("Content-Type"), raw)
	if body == nil {
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		writeText(w, http.StatusOK, "ok")
		return
	}

	if lookupString(body, "type") == "hook.verify" {
		metrics.WebhookRequests.WithLabelValues("verify").Inc()
		logger.WithFields(logger.Fields{"hook_id": lookupString(body, hookPaths...)}).Info("webhook.verify")
		writeText(w, http.StatusOK, lookupString(body, "code"))
		return
	}

	itemID, ok := lookupID(body, itemPaths...)
	if !ok {
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		logger.WithFields(logger.Fields{"bytes": len(raw)}).Info("webhook.no item id")
		writeText(w, http.StatusOK, "ok")
		return
	}
	itemStr := strconv.FormatInt(itemID, 10)
	key := dedup.NewKey(lookupString(body, hookPaths...), itemStr, lookupString(body, revisionPaths...))
	log := logger.WithFields(logger.Fields{"item_id": itemID, "dedup_key": key.String()})

	if h.Dedup.Seen(key) {
		metrics.WebhookRequests.WithLabelValues("duplicate").Inc()
		log.Info("webhook.duplicate")
		writeText(w, http.StatusOK, "duplicate")
		return
	}

	job := &jobs.Job{SourceItemID: itemID, Source: jobs.SourceWebhook, Payload: payloadJSON(body)}
	if appID, ok := lookupID(body, appPaths...); ok {
		job.SourceAppID = &appID
	}
	if err := h.Jobs.Enqueue(r.Context(), job); err != nil {
		// let a retry of the same event through
		h.Dedup.Forget(key)
		metrics.WebhookRequests.WithLabelValues("failed").Inc()
		log.WithError(err).Error("webhook.enqueue failed")
		writeText(w, http.StatusOK, "ok")
		return
	}

	metrics.WebhookRequests.WithLabelValues("queued").Inc()
	log.WithField("job_id", job.ID).Info("webhook.queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "itemId": itemStr})
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

// parseBody decodes a JSON object or a urlencoded form. It returns nil for
// an empty or unreadable body.
func parseBody(contentType string, raw []byte) map[string]any {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt != "application/x-www-form-urlencoded" {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil && m != nil {
			return m
		}
		if mt == "application/json" {
			return nil
		}
	}
	vals, err := url.ParseQuery(string(raw))
	if err != nil || len(vals) == 0 {
		return nil
	}
	m := make(map[string]any, len(vals))
	for k, v := range vals {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

func lookup(body map[string]any, path string) (any, bool) {
	var cur any = body
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// lookupString returns the first path holding a string or number.
func lookupString(body map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(body, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

// lookupID returns the first path holding a positive integer id.
func lookupID(body map[string]any, paths ...string) (int64, bool) {
	for _, p := range paths {
		v, ok := lookup(body, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			if t > 0 && t == float64(int64(t)) {
				return int64(t), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

func payloadJSON(body map[string]any) json.RawMessage {
	b, err := json.Marshal(body)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
