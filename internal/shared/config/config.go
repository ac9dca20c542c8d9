package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	DatabaseURL     string
	Env             string
	JWTSecret       string

	OCRProvider     string
	AzureEndpoint   string
	AzureKey        string
	AzureModel      string
	AzureAPIVersion string
	OCRTimeout      time.Duration

	LLMProvider  string
	LLMModel     string
	OpenAIAPIKey string
	GeminiAPIKey string
	LLMTimeout   time.Duration
	LLMRetries   int

	SummaryMaxInputChars   int
	KeyPhraseMaxInputChars int
	VocabularyFile         string

	AnalysisMode string
	StaleAfter   time.Duration
	QueueURL     string
	UploadRate   float64
	UploadBurst  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	if files := existing(".env", "cmd/.env"); len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			log.Printf("config: load env files: %v", err)
		}
	}

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		DatabaseURL:     dbURL,
		Env:             env,
		JWTSecret:       getEnv("JWT_SECRET", ""),

		OCRProvider:     normalizeOCRProvider(getEnv("OCR_PROVIDER", "azure")),
		AzureEndpoint:   getEnv("AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT", ""),
		AzureKey:        getEnv("AZURE_DOCUMENT_INTELLIGENCE_KEY", ""),
		AzureModel:      getEnv("AZURE_DOCUMENT_INTELLIGENCE_MODEL", "prebuilt-read"),
		AzureAPIVersion: getEnv("AZURE_DOCUMENT_INTELLIGENCE_API_VERSION", "2024-11-30"),
		OCRTimeout:      getEnvSeconds("OCR_TIMEOUT_SECONDS", 60*time.Second),

		LLMProvider:  normalizeLLMProvider(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:     getEnv("LLM_MODEL", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		LLMTimeout:   getEnvSeconds("LLM_TIMEOUT_SECONDS", 30*time.Second),
		LLMRetries:   getEnvInt("LLM_MAX_RETRIES", 0),

		SummaryMaxInputChars:   getEnvInt("SUMMARY_MAX_INPUT_CHARS", 3000),
		KeyPhraseMaxInputChars: getEnvInt("KEYPHRASE_MAX_INPUT_CHARS", 2000),
		VocabularyFile:         getEnv("KEYPHRASE_VOCABULARY_FILE", ""),

		AnalysisMode: normalizeAnalysisMode(getEnv("ANALYSIS_MODE", "sync")),
		StaleAfter:   getEnvSeconds("ANALYSIS_STALE_AFTER_SECONDS", 15*time.Minute),
		QueueURL:     getEnv("ANALYSIS_QUEUE_URL", ""),
		UploadRate:   getEnvFloat("UPLOAD_RATE_PER_SECOND", 0.5),
		UploadBurst:  getEnvInt("UPLOAD_RATE_BURST", 10),
	}
}

func existing(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s=%q not an int, using default %d", key, raw, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config: %s=%q not a number, using default %v", key, raw, def)
		return def
	}
	return f
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	n := getEnvInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeOCRProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pdftext", "pdf":
		return "pdftext"
	default:
		return "azure"
	}
}

func normalizeLLMProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gemini", "google":
		return "gemini"
	case "none", "off", "disabled":
		return "none"
	default:
		return "openai"
	}
}

func normalizeAnalysisMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queue", "async":
		return "queue"
	default:
		return "sync"
	}
}
