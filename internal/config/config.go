package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM provider identifiers.
const (
	ProviderAzure     = "azure"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// DefaultCodeExtensions lists the extensions routed through the model.
// Everything else is copied unchanged.
var DefaultCodeExtensions = []string{
	".java", ".xml", ".yml", ".yaml", ".properties", ".md", ".txt", ".json",
	".js", ".ts", ".py", ".sh", ".bat", ".cmd", ".gradle", ".kts", ".sql",
}

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Port string

	// Filesystem layout
	ResourcesDir string
	DocumentsDir string

	// LLM provider
	LLMProvider string
	LLMModel    string // Azure deployment name for the azure provider
	Temperature float64

	// Azure OpenAI (env names follow the Azure SDK conventions)
	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaHost      string
	AWSRegion       string

	// Migration workflow
	PhaseTimeout   time.Duration
	FileTimeout    time.Duration
	AgentMaxSteps  int
	Concurrency    int
	CodeExtensions []string

	// Upload limits
	MaxUploadBytes  int64
	MaxArchiveBytes int64

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// take precedence over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port: getEnv("CODECONVERT_PORT", "8000"),

		ResourcesDir: getEnv("CODECONVERT_RESOURCES_DIR", "resources"),
		DocumentsDir: getEnv("CODECONVERT_DOCUMENTS_DIR", "documents"),

		LLMProvider: strings.ToLower(getEnv("CODECONVERT_LLM_PROVIDER", ProviderAzure)),
		LLMModel:    getEnv("DEPLOYMENT_NAME", ""),
		Temperature: getEnvFloat("CODECONVERT_TEMPERATURE", 1),

		AzureEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-06-01"),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		PhaseTimeout:   getEnvDuration("CODECONVERT_PHASE_TIMEOUT", 400*time.Second),
		FileTimeout:    getEnvDuration("CODECONVERT_FILE_TIMEOUT", 300*time.Second),
		AgentMaxSteps:  getEnvInt("CODECONVERT_AGENT_MAX_STEPS", 50),
		Concurrency:    getEnvInt("CODECONVERT_CONCURRENCY", 1),
		CodeExtensions: getEnvList("CODECONVERT_CODE_EXTENSIONS", DefaultCodeExtensions),

		MaxUploadBytes:  int64(getEnvInt("CODECONVERT_MAX_UPLOAD_MB", 100)) << 20,
		MaxArchiveBytes: int64(getEnvInt("CODECONVERT_MAX_ARCHIVE_MB", 500)) << 20,

		LogFile:  getEnv("CODECONVERT_LOG_FILE", "/tmp/codeconvert.log"),
		LogLevel: parseLogLevel(getEnv("CODECONVERT_LOG_LEVEL", "INFO")),
	}
}

// fileConfig is the YAML overlay format. Zero values leave the
// environment-derived setting untouched.
type fileConfig struct {
	Port         string `yaml:"port"`
	ResourcesDir string `yaml:"resources_dir"`
	DocumentsDir string `yaml:"documents_dir"`
	LLM          struct {
		Provider    string   `yaml:"provider"`
		Model       string   `yaml:"model"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Migration struct {
		PhaseTimeout   string   `yaml:"phase_timeout"`
		FileTimeout    string   `yaml:"file_timeout"`
		AgentMaxSteps  int      `yaml:"agent_max_steps"`
		Concurrency    int      `yaml:"concurrency"`
		CodeExtensions []string `yaml:"code_extensions"`
	} `yaml:"migration"`
	LogLevel string `yaml:"log_level"`
}

// ApplyFile overlays settings from a YAML file. Secrets are intentionally
// not accepted here; they come from the environment only.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.ResourcesDir, fc.ResourcesDir)
	setString(&c.DocumentsDir, fc.DocumentsDir)
	setString(&c.LLMProvider, strings.ToLower(fc.LLM.Provider))
	setString(&c.LLMModel, fc.LLM.Model)
	if fc.LLM.Temperature != nil {
		c.Temperature = *fc.LLM.Temperature
	}

	if fc.Migration.PhaseTimeout != "" {
		d, err := time.ParseDuration(fc.Migration.PhaseTimeout)
		if err != nil {
			return fmt.Errorf("parse phase_timeout: %w", err)
		}
		c.PhaseTimeout = d
	}
	if fc.Migration.FileTimeout != "" {
		d, err := time.ParseDuration(fc.Migration.FileTimeout)
		if err != nil {
			return fmt.Errorf("parse file_timeout: %w", err)
		}
		c.FileTimeout = d
	}
	if fc.Migration.AgentMaxSteps > 0 {
		c.AgentMaxSteps = fc.Migration.AgentMaxSteps
	}
	if fc.Migration.Concurrency > 0 {
		c.Concurrency = fc.Migration.Concurrency
	}
	if len(fc.Migration.CodeExtensions) > 0 {
		c.CodeExtensions = normalizeExtensions(fc.Migration.CodeExtensions)
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}

	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("400").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return normalizeExtensions(strings.Split(val, ","))
}

// normalizeExtensions lowercases entries and ensures a leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
