package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	LogLevel             string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	WebhookSecret string
	DedupTTL      time.Duration
	OpsJWTSecret  string

	Podio    PodioConfig
	Supabase SupabaseConfig
	Storage  LocalStorageConfig
	OpenAI   OpenAIConfig
	PDF      PDFConfig
	Worker   WorkerConfig

	HTTPClientTimeout   time.Duration
	DownloadConcurrency int
	InlineMaxDimension  int
}

type PodioConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	AppID        int64
	AppToken     string
	AccessToken  string
	PostComment  bool
	// MaxFileMB caps one attachment download.
	MaxFileMB int
}

// Configured reports whether a token can be obtained.
func (p PodioConfig) Configured() bool {
	if p.AccessToken != "" {
		return true
	}
	return p.ClientID != "" && p.ClientSecret != "" && p.AppID != 0 && p.AppToken != ""
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
}

func (s SupabaseConfig) Configured() bool {
	return s.URL != "" && s.ServiceKey != ""
}

type LocalStorageConfig struct {
	Dir       string
	PublicURL string
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type PDFConfig struct {
	MaxPages int
	MaxChars int
	Timeout  time.Duration
}

type WorkerConfig struct {
	ID           string
	PollInterval time.Duration
	Lease        time.Duration
	Listen       bool
}

var ErrMissingDatabaseURL = errors.New("missing env: DATABASE_URL")

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		CORSAllowCredentials: getenvBool("CORS_ALLOW_CREDENTIALS", false),

		WebhookSecret: getenv("WEBHOOK_SECRET", ""),
		DedupTTL:      getenvDuration("DEDUP_TTL", 60*time.Second),
		OpsJWTSecret:  getenv("OPS_JWT_SECRET", ""),

		Podio: PodioConfig{
			BaseURL:      getenv("PODIO_BASE_URL", "https://api.podio.com"),
			ClientID:     getenv("PODIO_CLIENT_ID", ""),
			ClientSecret: getenv("PODIO_CLIENT_SECRET", ""),
			AppID:        int64(getenvInt("PODIO_APP_ID", 0)),
			AppToken:     getenv("PODIO_APP_TOKEN", ""),
			AccessToken:  getenv("PODIO_OAUTH_ACCESS_TOKEN", ""),
			PostComment:  getenvBool("PODIO_POST_COMMENT", false),
			MaxFileMB:    getenvInt("PODIO_MAX_FILE_MB", 100),
		},
		Supabase: SupabaseConfig{
			URL:        strings.TrimRight(getenv("SUPABASE_URL", ""), "/"),
			ServiceKey: getenv("SUPABASE_SERVICE_ROLE_KEY", ""),
			Bucket:     getenv("SUPABASE_BUCKET", "podio-files"),
		},
		Storage: LocalStorageConfig{
			Dir:       getenv("STORAGE_DIR", ""),
			PublicURL: getenv("STORAGE_PUBLIC_URL", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getenv("OPENAI_MODEL", "gpt-4o"),
			Temperature: getenvFloat("OPENAI_TEMPERATURE", 0),
			Timeout:     getenvDuration("OPENAI_TIMEOUT", 120*time.Second),
		},
		PDF: PDFConfig{
			MaxPages: getenvInt("PDF_MAX_PAGES", 3),
			MaxChars: getenvInt("PDF_MAX_CHARS", 20000),
			Timeout:  getenvDuration("PDF_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			ID:           getenv("WORKER_ID", defaultWorkerID()),
			PollInterval: getenvDuration("WORKER_POLL", 800*time.Millisecond),
			Lease:        getenvDuration("WORKER_LEASE", 5*time.Minute),
			Listen:       getenvBool("WORKER_LISTEN", false),
		},

		HTTPClientTimeout:   getenvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
		DownloadConcurrency: getenvInt("DOWNLOAD_CONCURRENCY", 2),
		InlineMaxDimension:  getenvInt("INLINE_MAX_DIMENSION", 2048),
	}

	for _, o := range strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, ErrMissingDatabaseURL
	}
	return cfg, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// getenvDuration accepts Go durations ("10s") or bare milliseconds ("10000").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(getenv(key, ""))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
