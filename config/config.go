package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 聚合一次运行的全部配置,启动时构建一次,之后只读
type Config struct {
	LogLevel   string           `yaml:"loglevel"`
	LogFile    string           `yaml:"logfile"`
	Paperless  PaperlessConfig  `yaml:"paperless"`
	Mistral    MistralConfig    `yaml:"mistral"`
	Processing ProcessingConfig `yaml:"processing"`
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Paperless:  defaultPaperlessConfig(),
		Mistral:    defaultMistralConfig(),
		Processing: defaultProcessingConfig(),
	}
}

// Load resolves the configuration once: built-in defaults, then the
// optional YAML file, then environment variables. Callers pass the
// returned value (or its sub-structs) down explicitly; nothing reads
// the environment after this point.
func Load(file string) (*Config, error) {
	loadDotenv()

	cfg := Default()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envString("LOGLEVEL", c.LogLevel)
	c.LogFile = envString("LOGFILE", c.LogFile)
	c.Paperless.applyEnv()
	c.Mistral.applyEnv()
	c.Processing.applyEnv()
}

// loadDotenv 先取工作目录下的 .env,找不到再回退到仓库根目录
func loadDotenv() {
	if err := godotenv.Load(); err == nil {
		return
	}

	_, filename, _, _ := runtime.Caller(0)
	configDir := filepath.Dir(filename)
	rootDir := filepath.Dir(configDir)
	envPath := filepath.Join(rootDir, ".env")

	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid value %q for %s, using %d", v, key, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := parseBool(v)
	if err != nil {
		log.Printf("Warning: invalid value %q for %s, using %t", v, key, fallback)
		return fallback
	}
	return b
}

// parseBool accepts the usual truthy/falsy spellings
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y", "t":
		return true, nil
	case "0", "false", "no", "off", "n", "f":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", v)
}
