package config

// MistralConfig holds LLM provider connection settings
type MistralConfig struct {
	BaseURL  string `yaml:"baseURL"`
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`    // chat model for titles and verification
	OCRModel string `yaml:"ocrModel"` // dedicated OCR model
}

func defaultMistralConfig() MistralConfig {
	return MistralConfig{
		BaseURL:  "https://api.mistral.ai",
		Model:    "mistral-large-latest",
		OCRModel: "mistral-ocr-latest",
	}
}

func (c *MistralConfig) applyEnv() {
	c.BaseURL = envString("MISTRAL_BASEURL", c.BaseURL)
	c.APIKey = envString("MISTRAL_API_KEY", c.APIKey)
	c.Model = envString("MISTRAL_MODEL", c.Model)
	c.OCRModel = envString("MISTRAL_OCR_MODEL", c.OCRModel)
}
