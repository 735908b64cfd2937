package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all runtime settings for the medqa service.
type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Retrieval RetrievalConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir      string
	DocumentsDir string
}

type PipelineConfig struct {
	MaxChunkChars    int
	OverlapChars     int
	EmbedConcurrency int
	MaxRetries       int
}

type RetrievalConfig struct {
	TopK             int
	MaxContextTokens int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			DocumentsDir: "documents",
		},
		Pipeline: PipelineConfig{
			MaxChunkChars:    700,
			OverlapChars:     200,
			EmbedConcurrency: 4,
			MaxRetries:       3,
		},
		Retrieval: RetrievalConfig{
			TopK:             3,
			MaxContextTokens: 4000,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "medqa")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".medqa"
	}
	return filepath.Join(home, ".local", "share", "medqa")
}

func configFilePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "medqa", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "medqa", "config.json")
}

// Load reads configuration from the JSON config file (if present) and
// applies MEDQA_* environment variable overrides on top of the defaults.
func Load() (Config, error) {
	return loadFrom(configFilePath())
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config with pointer fields so absent keys leave
// defaults untouched.
type fileConfig struct {
	Server struct {
		Port      *int    `json:"port"`
		AuthToken *string `json:"auth_token"`
	} `json:"server"`
	Ollama struct {
		BaseURL    *string `json:"base_url"`
		ChatModel  *string `json:"chat_model"`
		EmbedModel *string `json:"embed_model"`
	} `json:"ollama"`
	Storage struct {
		DataDir      *string `json:"data_dir"`
		DocumentsDir *string `json:"documents_dir"`
	} `json:"storage"`
	Pipeline struct {
		MaxChunkChars    *int `json:"max_chunk_chars"`
		OverlapChars     *int `json:"overlap_chars"`
		EmbedConcurrency *int `json:"embed_concurrency"`
		MaxRetries       *int `json:"max_retries"`
	} `json:"pipeline"`
	Retrieval struct {
		TopK             *int `json:"top_k"`
		MaxContextTokens *int `json:"max_context_tokens"`
	} `json:"retrieval"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setInt(&cfg.Server.Port, fc.Server.Port)
	setString(&cfg.Server.AuthToken, fc.Server.AuthToken)
	setString(&cfg.Ollama.BaseURL, fc.Ollama.BaseURL)
	setString(&cfg.Ollama.ChatModel, fc.Ollama.ChatModel)
	setString(&cfg.Ollama.EmbedModel, fc.Ollama.EmbedModel)
	setString(&cfg.Storage.DataDir, fc.Storage.DataDir)
	setString(&cfg.Storage.DocumentsDir, fc.Storage.DocumentsDir)
	setInt(&cfg.Pipeline.MaxChunkChars, fc.Pipeline.MaxChunkChars)
	setInt(&cfg.Pipeline.OverlapChars, fc.Pipeline.OverlapChars)
	setInt(&cfg.Pipeline.EmbedConcurrency, fc.Pipeline.EmbedConcurrency)
	setInt(&cfg.Pipeline.MaxRetries, fc.Pipeline.MaxRetries)
	setInt(&cfg.Retrieval.TopK, fc.Retrieval.TopK)
	setInt(&cfg.Retrieval.MaxContextTokens, fc.Retrieval.MaxContextTokens)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MEDQA_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDQA_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("MEDQA_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("MEDQA_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("MEDQA_CHAT_MODEL"); v != "" {
		cfg.Ollama.ChatModel = v
	}
	if v := os.Getenv("MEDQA_EMBED_MODEL"); v != "" {
		cfg.Ollama.EmbedModel = v
	}
	if v := os.Getenv("MEDQA_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MEDQA_DOCUMENTS_DIR"); v != "" {
		cfg.Storage.DocumentsDir = v
	}
	return nil
}

func (c Config) validate() error {
	if c.Pipeline.MaxChunkChars <= 0 {
		return fmt.Errorf("max_chunk_chars must be positive, got %d", c.Pipeline.MaxChunkChars)
	}
	if c.Pipeline.OverlapChars < 0 || c.Pipeline.OverlapChars >= c.Pipeline.MaxChunkChars {
		return fmt.Errorf("overlap_chars must be in [0, max_chunk_chars), got %d", c.Pipeline.OverlapChars)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK)
	}
	return nil
}
