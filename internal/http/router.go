package http

import (
	"net/http"

	"tariffsync/internal/auth"
	"tariffsync/internal/classifier"
	"tariffsync/internal/config"
	"tariffsync/internal/dedup"
	"tariffsync/internal/documents"
	"tariffsync/internal/http/handler"
	mw "tariffsync/internal/http/middleware"
	"tariffsync/internal/jobs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Podio is what the diagnostic routes need from the record store client.
type Podio interface {
	handler.TokenSource
	handler.ItemSource
}

type Deps struct {
	DB     *gorm.DB
	Repo   *jobs.Repo
	Dedup  *dedup.Cache
	Worker handler.Runner
	Podio  Podio
	// Classifier enables /debug/classify; PDFs use Extractor.
	Classifier *classifier.Orchestrator
	Extractor  *documents.Extractor
	// JWT guards the ops routes; nil leaves them open.
	JWT *auth.JWT
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	wh := &handler.WebhookHandler{Jobs: d.Repo, Dedup: d.Dedup, Secret: cfg.WebhookSecret}
	r.Post("/webhook/podio", wh.Receive)
	r.Post("/hook", wh.Receive)

	jh := &handler.JobsHandler{Repo: d.Repo, Worker: d.Worker}
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOps(d.JWT))

		diag := &handler.DiagHandler{DB: d.DB, Repo: d.Repo, Config: cfg, Podio: d.Podio}
		r.Get("/diag", diag.Diag)

		r.Get("/jobs", jh.List)
		r.Get("/jobs/{id}", jh.Get)
		r.Post("/jobs/{id}/requeue", jh.Requeue)
		r.Post("/worker/run", jh.RunWorker)

		if d.Podio != nil {
			dbg := &handler.DebugHandler{Podio: d.Podio}
			r.Get("/debug/items/{id}/files", dbg.ItemFiles)
		}
		if d.Classifier != nil {
			cls := &handler.ClassifyHandler{Extractor: d.Extractor, Classifier: d.Classifier, InlineMaxDim: cfg.InlineMaxDimension}
			r.Post("/debug/classify", cls.Classify)
		}
	})

	return r
}
