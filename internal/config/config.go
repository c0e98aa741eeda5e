package config

import (
	"fmt"
	"os"
	"strings"

	"intelbrief/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Server     Server     `mapstructure:"server"`
	Ingest     Ingest     `mapstructure:"ingest"`
	AI         AI         `mapstructure:"ai"`
	Database   Database   `mapstructure:"database"`
	Categories []Category `mapstructure:"categories"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Server holds HTTP server configuration
type Server struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Ingest holds configuration for the upstream content-aggregation endpoint
type Ingest struct {
	APIURL      string `mapstructure:"api_url"`
	AccessToken string `mapstructure:"access_token"`
	ChainID     int    `mapstructure:"chain_id"`
	Content     string `mapstructure:"content"`
	Timeout     string `mapstructure:"timeout"`
}

// AI holds analyst/LLM configuration
type AI struct {
	Provider   string       `mapstructure:"provider"`
	PromptPath string       `mapstructure:"prompt_path"`
	OpenAI     OpenAIConfig `mapstructure:"openai"`
	Gemini     GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible chat endpoint
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	Timeout     string  `mapstructure:"timeout"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// Database selects and configures the storage engine
type Database struct {
	Engine string `mapstructure:"engine"` // "sqlite" or "postgres"
	URL    string `mapstructure:"url"`    // Postgres connection string
}

// Category is a configured key→display-name mapping entry
type Category struct {
	Key   string `mapstructure:"key"`
	Label string `mapstructure:"label"`
}

var globalConfig *Config

// Load loads configuration from .env, a config file and the environment.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".intelbrief")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(config.Categories) == 0 {
		config.Categories = defaultCategories()
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// CategorySet returns the configured categories as core values, preserving
// declaration order.
func (c *Config) CategorySet() []core.Category {
	out := make([]core.Category, 0, len(c.Categories))
	for _, cat := range c.Categories {
		out = append(out, core.Category{Key: cat.Key, Label: cat.Label})
	}
	return out
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".intelbrief-data")

	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("ingest.chain_id", 1036)
	viper.SetDefault("ingest.content", "内容")
	viper.SetDefault("ingest.timeout", "30s")

	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.prompt_path", "prompts/analyst_v1.md")
	viper.SetDefault("ai.openai.model", "qwen-max")
	viper.SetDefault("ai.openai.temperature", 0.2)
	viper.SetDefault("ai.openai.timeout", "60s")
	viper.SetDefault("ai.gemini.model", "gemini-1.5-flash-latest")
	viper.SetDefault("ai.gemini.temperature", 0.2)

	viper.SetDefault("database.engine", "sqlite")
}

func bindEnvironmentVariables() {
	_ = viper.BindEnv("ingest.api_url", "SPECIAL_API_URL")
	_ = viper.BindEnv("ingest.access_token", "ACCESS_TOKEN")
	_ = viper.BindEnv("ingest.chain_id", "SPECIAL_CHAIN_ID")
	_ = viper.BindEnv("ai.openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("ai.openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("ai.openai.model", "DEFAULT_MODEL")
	_ = viper.BindEnv("ai.gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("database.engine", "DATABASE_ENGINE")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
}

// validate enforces the only startup-fatal conditions: a missing ingestion
// endpoint and a networked engine without a connection string. Everything
// else degrades at runtime.
func validate(c *Config) error {
	if c.Ingest.APIURL == "" {
		return fmt.Errorf("ingest.api_url is required (set SPECIAL_API_URL)")
	}
	if c.Database.Engine != "sqlite" && c.Database.Engine != "postgres" {
		return fmt.Errorf("database.engine must be sqlite or postgres, got %q", c.Database.Engine)
	}
	if c.Database.Engine == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres engine (set DATABASE_URL)")
	}
	return nil
}

func defaultCategories() []Category {
	return []Category{
		{Key: "legal", Label: "法律法规"},
		{Key: "digital", Label: "数字化"},
		{Key: "brand", Label: "品牌"},
		{Key: "rd", Label: "新品研发"},
		{Key: "global", Label: "国际形势"},
		{Key: "insight", Label: "行业洞察"},
		{Key: "ai", Label: "AI"},
		{Key: "management", Label: "企业管理"},
	}
}
