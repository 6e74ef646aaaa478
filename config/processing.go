package config

// ProcessingConfig controls pipeline behavior
type ProcessingConfig struct {
	UsePaperlessOCR    bool   `yaml:"usePaperlessOCR"`    // trust store OCR, skip the provider
	VerifyContent      bool   `yaml:"verifyContent"`      // garbage check on fresh OCR text
	TrackProcessed     bool   `yaml:"trackProcessed"`     // stamp documents with a custom field
	ProcessedFieldID   int    `yaml:"processedFieldID"`
	ProcessedFieldName string `yaml:"processedFieldName"`
	Reprocess          bool   `yaml:"reprocess"`          // ignore existing processed markers
	DryRun             bool   `yaml:"dryRun"`             // no store mutations at all
	TitlePrompt        string `yaml:"titlePrompt"`
	VerificationPrompt string `yaml:"verificationPrompt"`
	ScratchDir         string `yaml:"scratchDir"`
}

func defaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		VerifyContent:      true,
		TrackProcessed:     true,
		ProcessedFieldID:   3,
		ProcessedFieldName: "mistral_processed",
		TitlePrompt:        DefaultTitlePrompt,
		VerificationPrompt: DefaultVerificationPrompt,
		ScratchDir:         "temp_docs",
	}
}

func (c *ProcessingConfig) applyEnv() {
	c.UsePaperlessOCR = envBool("USE_PAPERLESS_OCR", c.UsePaperlessOCR)
	c.VerifyContent = envBool("VERIFY_CONTENT", c.VerifyContent)
	c.TrackProcessed = envBool("TRACK_PROCESSED", c.TrackProcessed)
	c.ProcessedFieldID = envInt("PROCESSED_FIELD_ID", c.ProcessedFieldID)
	c.ProcessedFieldName = envString("PROCESSED_FIELD_NAME", c.ProcessedFieldName)
	c.Reprocess = envBool("REPROCESS_DOCUMENTS", c.Reprocess)
	c.DryRun = envBool("DRY_RUN", c.DryRun)
	c.TitlePrompt = envString("OVERRIDE_PROMPT", c.TitlePrompt)
	c.ScratchDir = envString("SCRATCH_DIR", c.ScratchDir)
}
