package config

// PaperlessConfig holds document store connection settings
type PaperlessConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	Timeout int    `yaml:"timeout"` // seconds
}

func defaultPaperlessConfig() PaperlessConfig {
	return PaperlessConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 10,
	}
}

func (c *PaperlessConfig) applyEnv() {
	c.BaseURL = envString("PAPERLESS_URL", c.BaseURL)
	c.APIKey = envString("PAPERLESS_API_KEY", c.APIKey)
	c.Timeout = envInt("TIMEOUT", c.Timeout)
}
