package processor

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/models"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

type Service struct {
	store    Store
	provider Provider
	marker   Marker
	logger   logger.Logger
	config   *ServiceConfig
	now      func() time.Time
}

type ServiceConfig struct {
	UsePaperlessOCR    bool
	VerifyContent      bool
	TrackProcessed     bool
	Reprocess          bool
	DryRun             bool
	ProcessedFieldID   int
	TitlePrompt        string
	VerificationPrompt string
	ContentPrefixLen   int
	VerifyPrefixLen    int
	TitleMaxRunes      int
	SimilarLimit       int
}

func NewService(
	store Store,
	provider Provider,
	marker Marker,
	log logger.Logger,
	cfg *ServiceConfig,
) DocumentProcessor {
	if cfg == nil {
		cfg = &ServiceConfig{
			VerifyContent:      true,
			TrackProcessed:     true,
			ProcessedFieldID:   3,
			TitlePrompt:        config.DefaultTitlePrompt,
			VerificationPrompt: config.DefaultVerificationPrompt,
		}
	}
	if cfg.ContentPrefixLen <= 0 {
		cfg.ContentPrefixLen = 4000
	}
	if cfg.VerifyPrefixLen <= 0 {
		cfg.VerifyPrefixLen = 2000
	}
	if cfg.TitleMaxRunes <= 0 {
		cfg.TitleMaxRunes = 32
	}
	if cfg.SimilarLimit <= 0 {
		cfg.SimilarLimit = 5
	}

	return &Service{
		store:    store,
		provider: provider,
		marker:   marker,
		logger:   log,
		config:   cfg,
		now:      time.Now,
	}
}

// Process 对单个文档跑完整流水线,返回值永远非 nil,
// 只有 failed 结果值得上层重试
func (s *Service) Process(ctx context.Context, docID int, sourcePath string) *models.Outcome {
	// 1. 取最新的文档信息,列表里的副本可能已经过期
	doc := s.store.Get(ctx, docID)
	if doc == nil {
		return s.failed(docID, "could not retrieve document")
	}

	// 2. 已处理的文档直接跳过,避免重复的 OCR/LLM 开销
	if s.config.TrackProcessed && !s.config.Reprocess && s.marker.IsProcessed(doc, s.config.ProcessedFieldID) {
		s.logger.Info("document already processed, skipping",
			logger.Int("document_id", docID))
		return &models.Outcome{DocID: docID, Status: models.StatusSkipped, Reason: "already processed"}
	}

	// 3. OCR:没有源文件或配置了用库内 OCR 时,沿用已有内容
	content := doc.Content
	freshOCR := false
	if !s.config.UsePaperlessOCR && sourcePath != "" {
		text, err := s.provider.ExtractText(ctx, sourcePath)
		if err != nil {
			s.logger.Error("failed to extract text",
				logger.Int("document_id", docID),
				logger.Error(err))
			return s.failed(docID, "text extraction failed")
		}
		content = text
		freshOCR = true
	} else {
		s.logger.Debug("using stored document content",
			logger.Int("document_id", docID))
	}

	// 4. 乱码判定只针对新产出的 OCR 文本
	if freshOCR {
		if s.config.VerifyContent {
			verdict, err := s.provider.VerifyContent(ctx, s.config.VerificationPrompt, prefix(content, s.config.VerifyPrefixLen))
			if err != nil {
				s.logger.Error("failed to verify extracted text",
					logger.Int("document_id", docID),
					logger.Error(err))
				return s.failed(docID, "content verification failed")
			}
			if verdict.IsGarbage {
				// 乱码是终态:保留原内容和标题,但照样打标,免得反复重试
				s.logger.Warn("extracted text judged unreadable, keeping stored content and title",
					logger.Int("document_id", docID))
				s.mark(ctx, docID)
				return &models.Outcome{DocID: docID, Status: models.StatusSucceeded, Reason: "content judged garbage"}
			}
		}
		s.updateContent(ctx, docID, content)
	}

	// 5. 相似文档仅用于丰富提示词,查不到不算失败
	similar := s.store.FindSimilar(ctx, docID, s.config.SimilarLimit)
	if len(similar) > 0 {
		titles := make([]string, 0, len(similar))
		for _, sd := range similar {
			titles = append(titles, sd.Title)
		}
		s.logger.Info("found similar documents to help with title generation",
			logger.Int("document_id", docID),
			logger.Any("titles", titles))
	} else {
		s.logger.Info("no similar documents found",
			logger.Int("document_id", docID))
	}

	// 6. 生成标题
	result, err := s.provider.GenerateTitle(ctx, s.config.TitlePrompt, s.titleContext(content, similar))
	if err != nil {
		s.logger.Error("could not generate title",
			logger.Int("document_id", docID),
			logger.Error(err))
		return s.failed(docID, "title generation failed")
	}

	// 7. 模型的输出不可尽信,按命名规则收敛一遍
	title := normalizeTitle(result.Title, s.config.TitleMaxRunes)
	if title == "" {
		s.logger.Error("generated title empty after normalization",
			logger.Int("document_id", docID),
			logger.String("raw_title", result.Title))
		return s.failed(docID, "generated title unusable")
	}

	s.logger.Info("will update document title",
		logger.Int("document_id", docID),
		logger.String("from", doc.Title),
		logger.String("to", title),
		logger.String("because", result.Explanation))

	s.updateTitle(ctx, docID, title)

	// 8. 打处理标记
	s.mark(ctx, docID)

	return &models.Outcome{DocID: docID, Status: models.StatusSucceeded, Title: title}
}

func (s *Service) failed(docID int, reason string) *models.Outcome {
	return &models.Outcome{DocID: docID, Status: models.StatusFailed, Reason: reason}
}

func (s *Service) updateContent(ctx context.Context, docID int, content string) {
	if s.config.DryRun {
		s.logger.Info("dry run, would update document content",
			logger.Int("document_id", docID),
			logger.Int("content_length", len(content)))
		return
	}
	s.store.UpdateContent(ctx, docID, content)
}

func (s *Service) updateTitle(ctx context.Context, docID int, title string) {
	if s.config.DryRun {
		s.logger.Info("dry run, would update document title",
			logger.Int("document_id", docID),
			logger.String("title", title))
		return
	}
	s.store.UpdateTitle(ctx, docID, title)
}

func (s *Service) mark(ctx context.Context, docID int) {
	if !s.config.TrackProcessed {
		return
	}
	if s.config.DryRun {
		s.logger.Info("dry run, would mark document processed",
			logger.Int("document_id", docID))
		return
	}
	if !s.marker.MarkProcessed(ctx, docID, s.config.ProcessedFieldID) {
		s.logger.Warn("could not mark document processed, it may be picked up again",
			logger.Int("document_id", docID))
	}
}

// titleContext 拼装生成输入:日期、内容前缀、相似文档标题
func (s *Service) titleContext(content string, similar []models.SimilarDocument) string {
	var b strings.Builder
	b.WriteString(s.now().Format("01/02/2006"))
	b.WriteString(" ")
	b.WriteString(prefix(content, s.config.ContentPrefixLen))

	if len(similar) > 0 {
		b.WriteString("\nTitles of similar documents:")
		for _, doc := range similar {
			b.WriteString("\n- ")
			b.WriteString(doc.Title)
		}
	}
	return b.String()
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// normalizeTitle enforces the naming rules on model output: lowercase,
// underscores between words, unicode letters and digits only, at most
// maxRunes runes with no dangling underscore.
func normalizeTitle(raw string, maxRunes int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}

	title := strings.Trim(collapseUnderscores(b.String()), "_")
	runes := []rune(title)
	if len(runes) > maxRunes {
		title = strings.TrimRight(string(runes[:maxRunes]), "_")
	}
	return title
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	prev := false
	for _, r := range s {
		if r == '_' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
