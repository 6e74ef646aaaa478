package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/models"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
	"github.com/feichai0017/paperless-mistral/pkg/scratch"
)

const (
	maxAttempts      = 3
	retryDelay       = 2 * time.Second
	progressInterval = 10
	sweepInterval    = 20
	sweepAge         = 10 * time.Minute
)

// Store is the document store surface the orchestrator needs.
type Store interface {
	ListAll(ctx context.Context, filter string) []models.Document
	Download(ctx context.Context, id int, dir string) string
}

// Tracker resolves the processed-marker field and reads the stale
// copies coming out of a listing.
type Tracker interface {
	EnsureField(ctx context.Context) (int, bool)
	IsProcessed(doc *models.Document, fieldID int) bool
}

// Pipeline processes one document end to end.
type Pipeline interface {
	Process(ctx context.Context, docID int, sourcePath string) *models.Outcome
}

// PipelineFactory 在标记字段解析完成后构建流水线
type PipelineFactory func(fieldID int) Pipeline

// RunResult 一次运行的计数汇总
type RunResult struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

func (res *RunResult) tally(outcome *models.Outcome) {
	switch outcome.Status {
	case models.StatusSucceeded:
		res.Succeeded++
	case models.StatusSkipped:
		res.Skipped++
	default:
		res.Failed++
	}
}

// Runner drives the pipeline across one document or the whole corpus.
type Runner struct {
	store   Store
	tracker Tracker
	build   PipelineFactory
	cfg     config.ProcessingConfig
	log     logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(store Store, tracker Tracker, build PipelineFactory, cfg config.ProcessingConfig, log logger.Logger) *Runner {
	return &Runner{
		store:   store,
		tracker: tracker,
		build:   build,
		cfg:     cfg,
		log:     log.With(logger.String("run_id", uuid.New().String())),
		sleep:   sleepCtx,
	}
}

// RunSingle 处理指定文档;sourcePath 为空时先从库里下载
func (r *Runner) RunSingle(ctx context.Context, docID int, sourcePath string) (result *RunResult, err error) {
	if r.cfg.DryRun {
		r.log.Info("running in dry mode")
	}
	r.log.Info("running for single document", logger.Int("document_id", docID))

	dir, err := scratch.New(r.cfg.ScratchDir, r.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer dir.RemoveAll()
	defer r.recoverPanic(&result, &err)

	fieldID := r.ensureField(ctx)
	pipe := r.build(fieldID)

	if sourcePath == "" {
		sourcePath = r.store.Download(ctx, docID, dir.Root())
		if sourcePath == "" {
			r.log.Warn("could not download document, continuing with stored content",
				logger.Int("document_id", docID))
		}
	}

	outcome := r.processWithRetry(ctx, pipe, docID, sourcePath)

	result = &RunResult{Total: 1}
	result.tally(outcome)
	r.logSummary(result)
	return result, nil
}

// RunAll 顺序处理整个文档库
func (r *Runner) RunAll(ctx context.Context, excludeIDs []int, filter string) (result *RunResult, err error) {
	if r.cfg.DryRun {
		r.log.Info("running in dry mode")
	}
	r.log.Info("running on all documents")

	dir, err := scratch.New(r.cfg.ScratchDir, r.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer dir.RemoveAll()
	defer r.recoverPanic(&result, &err)

	fieldID := r.ensureField(ctx)
	pipe := r.build(fieldID)

	docs := r.store.ListAll(ctx, filter)
	if len(docs) == 0 {
		r.log.Error("could not retrieve documents")
		return nil, errors.New("no documents to process")
	}

	if len(excludeIDs) > 0 {
		docs = excludeDocuments(docs, excludeIDs)
		r.log.Info("filtered documents after exclusions",
			logger.Int("remaining", len(docs)))
	}

	result = &RunResult{Total: len(docs)}
	for i, doc := range docs {
		if ctx.Err() != nil {
			r.log.Warn("run canceled", logger.Int("processed", i))
			return result, ctx.Err()
		}

		// 列表里的旧副本足够做廉价预判,省一次下载
		if r.cfg.TrackProcessed && !r.cfg.Reprocess && r.tracker.IsProcessed(&doc, fieldID) {
			r.log.Info("document already processed, skipping",
				logger.Int("document_id", doc.ID))
			result.Skipped++
			r.progress(i+1, result)
			continue
		}

		r.log.Info("processing document",
			logger.Int("position", i+1),
			logger.Int("total", len(docs)),
			logger.Int("document_id", doc.ID))

		sourcePath := r.store.Download(ctx, doc.ID, dir.Root())
		if sourcePath == "" {
			r.log.Warn("could not download document, continuing with stored content",
				logger.Int("document_id", doc.ID))
		}

		outcome := r.processWithRetry(ctx, pipe, doc.ID, sourcePath)
		result.tally(outcome)
		dir.Remove(sourcePath)

		r.progress(i+1, result)

		// 长跑时定期清理,兜底中断留下的半成品文件
		if (i+1)%sweepInterval == 0 {
			dir.Sweep(sweepAge)
		}
	}

	r.logSummary(result)
	return result, nil
}

// processWithRetry 只重试 failed 结果,skipped 和 succeeded 都是终态
func (r *Runner) processWithRetry(ctx context.Context, pipe Pipeline, docID int, sourcePath string) *models.Outcome {
	var outcome *models.Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome = pipe.Process(ctx, docID, sourcePath)
		if !outcome.Retryable() {
			return outcome
		}

		r.log.Error("error processing document",
			logger.Int("document_id", docID),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", maxAttempts),
			logger.String("reason", outcome.Reason))

		if attempt < maxAttempts {
			if err := r.sleep(ctx, retryDelay); err != nil {
				return outcome
			}
		}
	}

	r.log.Error("failed to process document after retries",
		logger.Int("document_id", docID),
		logger.Int("max_attempts", maxAttempts))
	return outcome
}

// ensureField 解析标记字段;解析失败沿用配置的 ID 继续跑,不中断
func (r *Runner) ensureField(ctx context.Context) int {
	if !r.cfg.TrackProcessed {
		return r.cfg.ProcessedFieldID
	}

	fieldID, ok := r.tracker.EnsureField(ctx)
	if !ok {
		r.log.Warn("could not ensure processed-marker field, continuing with configured ID",
			logger.Int("field_id", r.cfg.ProcessedFieldID))
		return r.cfg.ProcessedFieldID
	}
	if fieldID != r.cfg.ProcessedFieldID {
		r.log.Info("custom field ID mismatch, using resolved ID",
			logger.Int("configured_id", r.cfg.ProcessedFieldID),
			logger.Int("field_id", fieldID))
	}
	return fieldID
}

func (r *Runner) recoverPanic(result **RunResult, err *error) {
	if p := recover(); p != nil {
		r.log.Error("panic while processing, aborting run",
			logger.Any("panic", p),
			logger.Stack())
		*result = nil
		*err = fmt.Errorf("run aborted by panic: %v", p)
	}
}

func (r *Runner) progress(done int, res *RunResult) {
	if done%progressInterval != 0 && done != res.Total {
		return
	}
	r.log.Info(fmt.Sprintf("progress: %d/%d documents processed (%d success, %d failed, %d skipped)",
		done, res.Total, res.Succeeded, res.Failed, res.Skipped))
}

func (r *Runner) logSummary(res *RunResult) {
	r.log.Info("run complete",
		logger.Int("total", res.Total),
		logger.Int("success", res.Succeeded),
		logger.Int("failed", res.Failed),
		logger.Int("skipped", res.Skipped))
}

func excludeDocuments(docs []models.Document, excludeIDs []int) []models.Document {
	excluded := make(map[int]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	kept := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if _, drop := excluded[doc.ID]; !drop {
			kept = append(kept, doc)
		}
	}
	return kept
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
