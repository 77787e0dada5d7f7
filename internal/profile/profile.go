package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string `validate:"oneof=prod dev demo"`
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int `validate:"gte=0,lte=65535"`
	// Data is the data directory
	Data string
	// DSN points to the analytics database
	DSN string `validate:"required"`
	// Driver is the database driver (sqlite or postgres)
	Driver string `validate:"oneof=sqlite postgres"`
	// Version is the current version of server
	Version string

	// OpenAI compatible chat and embedding endpoint.
	OpenAIAPIKey        string // BRANDPULSE_OPENAI_API_KEY (fallback: OPENAI_API_KEY)
	OpenAIBaseURL       string // BRANDPULSE_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	ChatModel           string // BRANDPULSE_CHAT_MODEL (default: gpt-4o-mini)
	SummaryModel        string // BRANDPULSE_SUMMARY_MODEL (default: gpt-4o-mini)
	EmbeddingModel      string // BRANDPULSE_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDimensions int    // BRANDPULSE_EMBEDDING_DIMENSIONS (default: 1536)

	// Vector index used to ground proper nouns.
	VectorBackend   string `validate:"oneof=file pgvector"`
	VectorIndexPath string
	// RequireIndex makes a missing index path a startup error instead of a warning.
	RequireIndex bool

	// Agent limits.
	MaxRows           int   `validate:"gte=1,lte=1000"`
	MaxSteps          int   `validate:"gte=1,lte=50"`
	MaxQueryRetries   int   `validate:"gte=0,lte=5"`
	HistoryWindow     int   `validate:"gte=0"`
	MemoryMaxTurns    int   `validate:"gte=1"`
	SchemaSampleRows  int   `validate:"gte=0,lte=10"`
	StreamBuffer      int   `validate:"gte=1"`
	MaxConcurrentRuns int64 `validate:"gte=1"`

	// QueryTimeout bounds a single statement against the analytics store.
	QueryTimeout time.Duration

	// CheckpointPath is the sqlite file used to persist conversation memory. Empty keeps memory in-process only.
	CheckpointPath string

	// Rate limit per client on /api/ai.
	RateLimitRPS   float64
	RateLimitBurst int
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if a key or a custom base URL is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.OpenAIAPIKey != "" || (p.OpenAIBaseURL != "" && p.OpenAIBaseURL != DefaultOpenAIBaseURL)
}

// ErrMissingCredentials is returned by Validate when no model endpoint is configured.
// Commands that never call a model may ignore it.
var ErrMissingCredentials = errors.New("missing OpenAI credentials: set BRANDPULSE_OPENAI_API_KEY or OPENAI_API_KEY")

const (
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultChatModel      = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// ApplyDefaults fills unset agent and model settings.
func (p *Profile) ApplyDefaults() {
	if p.OpenAIBaseURL == "" {
		p.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if p.ChatModel == "" {
		p.ChatModel = DefaultChatModel
	}
	if p.SummaryModel == "" {
		p.SummaryModel = DefaultChatModel
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = DefaultEmbeddingModel
	}
	if p.EmbeddingDimensions <= 0 {
		p.EmbeddingDimensions = 1536
	}
	if p.VectorBackend == "" {
		p.VectorBackend = "file"
	}
	if p.MaxRows <= 0 {
		p.MaxRows = 50
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = 8
	}
	if p.MaxQueryRetries < 0 {
		p.MaxQueryRetries = 0
	}
	if p.HistoryWindow <= 0 {
		p.HistoryWindow = 10
	}
	if p.MemoryMaxTurns <= 0 {
		p.MemoryMaxTurns = 100
	}
	if p.QueryTimeout <= 0 {
		p.QueryTimeout = 30 * time.Second
	}
	if p.StreamBuffer <= 0 {
		p.StreamBuffer = 8
	}
	if p.MaxConcurrentRuns <= 0 {
		p.MaxConcurrentRuns = 16
	}
	if p.RateLimitRPS <= 0 {
		p.RateLimitRPS = 2
	}
	if p.RateLimitBurst <= 0 {
		p.RateLimitBurst = 5
	}
}

// FromEnv fills credentials that are conventionally provided through the plain OpenAI variables.
func (p *Profile) FromEnv() {
	if p.OpenAIAPIKey == "" {
		p.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if p.OpenAIBaseURL == "" {
		p.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and reports configuration errors.
// Any error returned here is fatal: the server must refuse to start.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	p.ApplyDefaults()

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "brandpulse")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/brandpulse"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("brandpulse_%s.db", p.Mode))
	}
	if p.VectorBackend == "file" && p.VectorIndexPath == "" {
		p.VectorIndexPath = filepath.Join(dataDir, "vector_db")
	}

	if err := validator.New().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return errors.Errorf("invalid configuration: %s failed on '%s' with value '%v'", e.Field(), e.Tag(), e.Value())
		}
		return errors.Wrap(err, "invalid configuration")
	}

	if p.VectorBackend == "pgvector" && p.Driver != "postgres" {
		return errors.New("vector backend pgvector requires the postgres driver")
	}
	if p.RequireIndex && p.VectorBackend == "file" {
		if _, err := os.Stat(p.VectorIndexPath); err != nil {
			return errors.Wrapf(err, "missing vector index path %s", p.VectorIndexPath)
		}
	}
	if p.OpenAIAPIKey == "" && p.OpenAIBaseURL == DefaultOpenAIBaseURL {
		return ErrMissingCredentials
	}

	return nil
}
