package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath     string `envconfig:"DB_PATH" default:"/data/prescriptly.db"`
	PhotoPath  string `envconfig:"PHOTO_LOCAL_PATH" default:"/data/prescriptions"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile    string `envconfig:"LOG_FILE"`

	// ChatBackend drives the dialogue engine; VisionBackend drives
	// prescription extraction.
	ChatBackend   string `envconfig:"LLM_BACKEND" default:"claude"`
	VisionBackend string `envconfig:"VISION_BACKEND" default:"claude"`

	ClaudeAPIKey string `envconfig:"CLAUDE_API_KEY"`
	ClaudeModel  string `envconfig:"CLAUDE_MODEL" default:"claude-sonnet-4-5"`

	OpenAIAPIKey          string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel           string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITranscribeModel string `envconfig:"OPENAI_TRANSCRIBE_MODEL" default:"whisper-1"`

	OllamaHost  string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	OllamaModel string `envconfig:"OLLAMA_MODEL" default:"llama3.2-vision"`

	// AuthTokens is a comma separated list of token:userID[:display name].
	AuthTokens string `envconfig:"AUTH_TOKENS"`

	MaxToolRounds         int           `envconfig:"MAX_TOOL_ROUNDS" default:"5"`
	ClearCartConfirmation bool          `envconfig:"CLEAR_CART_CONFIRMATION" default:"false"`
	RequestsPerMinute     int           `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"60"`
	ModelTimeout          time.Duration `envconfig:"MODEL_TIMEOUT" default:"60s"`
	VoiceErrorReset       time.Duration `envconfig:"VOICE_ERROR_RESET" default:"3s"`
}

// Load reads configuration from the environment. If ENV_FILE names a file, or
// a .env file exists in the working directory, its keys are exported first.
func Load() (*Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(".env"); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if cfg.MaxToolRounds < 1 {
		return nil, fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", cfg.MaxToolRounds)
	}
	return &cfg, nil
}

func exportEnvironmentIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(path)
}

// exportEnvironment copies keys from path into the process environment.
// Variables already set in the environment win over the file.
func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
