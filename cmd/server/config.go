package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"gopkg.in/yaml.v3"
)

type assistantConfig interface {
	// transport builds the assistant service client. The returned func releases it.
	transport(logger *slog.Logger) (turn.Transport, func(), error)
}

// BaseAssistantConfig contains the common fields for all assistant configurations.
type BaseAssistantConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port         string          `yaml:"port"`
	LogLevel     slog.Level      `yaml:"logLevel"`
	Instructions string          `yaml:"instructions"`
	Poll         pollConfig      `yaml:"poll"`
	RateLimit    rateLimitConfig `yaml:"rateLimit"`
	Assistant    assistantConfig `yaml:"assistant"`

	// SessionRetention drops archived sessions idle for longer at startup. Zero keeps them all.
	SessionRetention time.Duration `yaml:"sessionRetention"`
	// SessionIdle drops sessions from memory once no request touched them for that long.
	SessionIdle time.Duration `yaml:"sessionIdle"`
}

type pollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

type rateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type openAIConfig struct {
	BaseAssistantConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
	BaseURL             string `yaml:"baseURL"`
	AssistantID         string `yaml:"assistantID"`
}

type ollamaConfig struct {
	BaseAssistantConfig `yaml:",inline"`
	Host                string `yaml:"host"`
	Model               string `yaml:"model"`
	SystemPrompt        string `yaml:"systemPrompt"`
}

const (
	defaultPort        = "8080"
	defaultPollTimeout = 10 * time.Minute
	defaultSessionIdle = 30 * time.Minute
	defaultOllamaHost  = "http://localhost:11434"
)

func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	cfg := config{}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string          `yaml:"port"`
		LogLevel         string          `yaml:"logLevel"`
		Instructions     string          `yaml:"instructions"`
		Poll             pollConfig      `yaml:"poll"`
		RateLimit        rateLimitConfig `yaml:"rateLimit"`
		SessionRetention time.Duration   `yaml:"sessionRetention"`
		SessionIdle      time.Duration   `yaml:"sessionIdle"`
		Assistant        map[string]any  `yaml:"assistant"`
	}
	// Keys left out keep their defaults
	rawConfig.Poll.Timeout = defaultPollTimeout
	rawConfig.SessionIdle = defaultSessionIdle

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	c.Instructions = rawConfig.Instructions
	c.Poll = rawConfig.Poll
	c.RateLimit = rawConfig.RateLimit
	c.SessionRetention = rawConfig.SessionRetention
	c.SessionIdle = rawConfig.SessionIdle
	if c.SessionIdle <= 0 {
		c.SessionIdle = defaultSessionIdle
	}

	provider, ok := rawConfig.Assistant["provider"].(string)
	if !ok {
		return errors.New("assistant provider is required")
	}

	rawAssistant, err := yaml.Marshal(rawConfig.Assistant)
	if err != nil {
		return err
	}

	var assistant assistantConfig
	switch provider {
	case "openai":
		assistant = &openAIConfig{}
	case "ollama":
		assistant = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown assistant provider: %s", provider)
	}

	if err := yaml.Unmarshal(rawAssistant, assistant); err != nil {
		return err
	}

	c.Assistant = assistant
	return nil
}

func (c config) turnConfig() turn.Config {
	return turn.Config{
		Instructions: c.Instructions,
		PollInterval: c.Poll.Interval,
		PollTimeout:  c.Poll.Timeout,
		MaxPolls:     c.Poll.MaxAttempts,
	}
}

func (c config) rateLimit() handlers.RateLimit {
	return handlers.RateLimit{
		RPS:   c.RateLimit.RPS,
		Burst: c.RateLimit.Burst,
	}
}

func (o openAIConfig) transport(logger *slog.Logger) (turn.Transport, func(), error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, nil, errors.New("openai apiKey is required")
	}

	assistantID := o.AssistantID
	if assistantID == "" {
		assistantID = os.Getenv("OPENAI_ASSISTANT_ID")
	}
	if assistantID == "" {
		return nil, nil, errors.New("openai assistantID is required")
	}

	return services.NewOpenAI(apiKey, o.BaseURL, assistantID, logger), func() {}, nil
}

func (o ollamaConfig) transport(logger *slog.Logger) (turn.Transport, func(), error) {
	if o.Model == "" {
		return nil, nil, errors.New("ollama model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}

	l, err := services.NewLocalAssistant(host, o.Model, o.SystemPrompt, logger)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}
