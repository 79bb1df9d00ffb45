package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Port               string
	DatabaseURL        string
	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string
	OpenAIAPIKey       string
	AnthropicAPIKey    string
	LogLevel           string
	LogFormat          string
	Environment        string

	// Feature switches
	CommandsEnabled bool
	EventsEnabled   bool

	SiteName   string
	WebsiteURL string

	// LLM
	LLMProvider         string
	OpenAIChatModel     string
	AnthropicChatModel  string
	EmbeddingModel      string
	EmbeddingDimensions int
	VisionModel         string
	EmbeddingCacheSize  int
	PromptCacheTTL      time.Duration

	// Search
	MeilisearchHost        string
	MeilisearchAPIKey      string
	MeilisearchIndexPrefix string

	// Optional shared backoff clock
	RedisURL string

	// Bearer token for POST /api/query; empty disables the endpoint
	QueryAPIToken string

	// Channels
	ContributeChannelID string
	GSoCChannelID       string
	AssistantChannelIDs []string
	SyncChannelIDs      []string

	MessageSyncInterval time.Duration

	// Deadlines and QA tuning
	QATimeout           time.Duration
	SearchTimeout       time.Duration
	QAMaxIterations     int
	RetrieverLimit      int
	SimilarityThreshold float64
}

func Load() *Config {
	return &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "postgres://localhost/nest?sslmode=disable"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:        getEnvOrDefault("ENVIRONMENT", "development"),

		CommandsEnabled: getBoolEnv("SLACK_COMMANDS_ENABLED", true),
		EventsEnabled:   getBoolEnv("SLACK_EVENTS_ENABLED", true),

		SiteName:   getEnvOrDefault("SITE_NAME", "OWASP Nest"),
		WebsiteURL: strings.TrimRight(getEnvOrDefault("OWASP_WEBSITE_URL", "https://owasp.org"), "/"),

		LLMProvider:         strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openai")),
		OpenAIChatModel:     getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		AnthropicChatModel:  getEnvOrDefault("ANTHROPIC_CHAT_MODEL", "claude-3-5-haiku-20241022"),
		EmbeddingModel:      getEnvOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getIntEnv("EMBEDDING_DIMENSIONS", 1536),
		VisionModel:         getEnvOrDefault("OPENAI_VISION_MODEL", "gpt-4o"),
		EmbeddingCacheSize:  getIntEnv("EMBEDDING_CACHE_SIZE", 512),
		PromptCacheTTL:      getDurationEnv("PROMPT_CACHE_TTL", 5*time.Minute),

		MeilisearchHost:        getEnvOrDefault("MEILISEARCH_HOST", "http://localhost:7700"),
		MeilisearchAPIKey:      os.Getenv("MEILISEARCH_API_KEY"),
		MeilisearchIndexPrefix: getEnvOrDefault("MEILISEARCH_INDEX_PREFIX", "nest"),

		RedisURL: os.Getenv("REDIS_URL"),

		QueryAPIToken: os.Getenv("QUERY_API_TOKEN"),

		ContributeChannelID: os.Getenv("SLACK_CONTRIBUTE_CHANNEL_ID"),
		GSoCChannelID:       os.Getenv("SLACK_GSOC_CHANNEL_ID"),
		AssistantChannelIDs: getListEnv("SLACK_ASSISTANT_CHANNEL_IDS"),
		SyncChannelIDs:      getListEnv("SLACK_SYNC_CHANNEL_IDS"),

		MessageSyncInterval: getDurationEnv("MESSAGE_SYNC_INTERVAL", 0),

		QATimeout:           getDurationEnv("QA_TIMEOUT", 60*time.Second),
		SearchTimeout:       getDurationEnv("SEARCH_TIMEOUT", 15*time.Second),
		QAMaxIterations:     getIntEnv("QA_MAX_ITERATIONS", 3),
		RetrieverLimit:      getIntEnv("RETRIEVER_LIMIT", 8),
		SimilarityThreshold: getFloatEnv("SIMILARITY_THRESHOLD", 0.1),
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.SlackBotToken == "" {
		errs = append(errs, "SLACK_BOT_TOKEN is required")
	}

	if c.SlackBotToken != "" && !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
		errs = append(errs, "SLACK_BOT_TOKEN must start with 'xoxb-'")
	}

	if c.SlackAppToken != "" && !strings.HasPrefix(c.SlackAppToken, "xapp-") {
		errs = append(errs, "SLACK_APP_TOKEN must start with 'xapp-'")
	}

	if c.IsProduction() && !c.SocketMode() && c.SlackSigningSecret == "" {
		errs = append(errs, "SLACK_SIGNING_SECRET is required in production over HTTP")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.OpenAIAPIKey == "" {
		// Embeddings and vision always go through OpenAI.
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	switch c.LLMProvider {
	case "openai":
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, "ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	default:
		errs = append(errs, "LLM_PROVIDER must be one of: openai, anthropic")
	}

	if c.QATimeout < 30*time.Second {
		errs = append(errs, "QA_TIMEOUT must be at least 30s")
	}

	if c.SearchTimeout < 10*time.Second {
		errs = append(errs, "SEARCH_TIMEOUT must be at least 10s")
	}

	if c.QAMaxIterations < 1 {
		errs = append(errs, "QA_MAX_ITERATIONS must be positive")
	}

	if c.RetrieverLimit < 1 || c.RetrieverLimit > 100 {
		errs = append(errs, "RETRIEVER_LIMIT must be between 1 and 100")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errs = append(errs, "LOG_FORMAT must be one of: text, json")
	}

	if len(errs) > 0 {
		return errors.New(errs[0])
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// SocketMode reports whether interactions arrive over a websocket instead of HTTP.
func (c *Config) SocketMode() bool {
	return c.SlackAppToken != ""
}

// IsAssistantChannel reports whether plain messages in channelID are answered by the QA service.
func (c *Config) IsAssistantChannel(channelID string) bool {
	return contains(c.AssistantChannelIDs, channelID)
}

// Holder keeps the process-wide configuration. Readers get an immutable
// snapshot; Reload swaps it wholesale.
type Holder struct {
	mu     sync.RWMutex
	cfg    *Config
	loader func() *Config
}

func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg, loader: Load}
}

func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads the environment. An invalid configuration is rejected and
// the previous snapshot stays in place.
func (h *Holder) Reload() error {
	next := h.loader()
	if err := next.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	h.cfg = next
	h.mu.Unlock()
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
