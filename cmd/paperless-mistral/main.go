package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/mistral"
	"github.com/feichai0017/paperless-mistral/internal/paperless"
	"github.com/feichai0017/paperless-mistral/internal/runner"
	"github.com/feichai0017/paperless-mistral/internal/service/processor"
	"github.com/feichai0017/paperless-mistral/internal/tracker"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
	"github.com/feichai0017/paperless-mistral/pkg/request"
)

// intList 实现 flag.Value,让 --exclude 可以重复出现
type intList []int

func (l *intList) String() string {
	return fmt.Sprint([]int(*l))
}

func (l *intList) Set(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid document ID %q", v)
	}
	*l = append(*l, n)
	return nil
}

// cliFlags 收集命令行覆盖项,零值表示未指定
type cliFlags struct {
	configFile         string
	logLevel           string
	dry                bool
	paperlessURL       string
	paperlessKey       string
	mistralKey         string
	mistralModel       string
	ocrModel           string
	usePaperlessOCR    bool
	trackProcessed     bool
	processedFieldID   int
	processedFieldName string
	reprocess          bool
	timeout            int
}

func registerFlags(fs *flag.FlagSet, f *cliFlags) {
	fs.StringVar(&f.configFile, "config", "", "path to a YAML config file")
	fs.StringVar(&f.logLevel, "loglevel", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logLevel, "l", "", "shorthand for --loglevel")
	fs.BoolVar(&f.dry, "dry", false, "run without making any changes")
	fs.StringVar(&f.paperlessURL, "paperlessurl", "", "URL of the paperless instance")
	fs.StringVar(&f.paperlessKey, "paperlesskey", "", "API key for the paperless instance")
	fs.StringVar(&f.mistralKey, "mistralkey", "", "Mistral API key")
	fs.StringVar(&f.mistralModel, "mistralmodel", "", "Mistral chat model for titles and verification")
	fs.StringVar(&f.ocrModel, "ocr-model", "", "Mistral model for OCR processing")
	fs.BoolVar(&f.usePaperlessOCR, "use-paperless-ocr", false, "use the store's built-in OCR instead of Mistral")
	fs.BoolVar(&f.trackProcessed, "track-processed", false, "track processed documents using a custom field")
	fs.IntVar(&f.processedFieldID, "processed-field-id", 0, "custom field ID for tracking processed documents")
	fs.StringVar(&f.processedFieldName, "processed-field-name", "", "custom field name for tracking processed documents")
	fs.BoolVar(&f.reprocess, "reprocess", false, "reprocess documents even if they carry the processed marker")
	fs.IntVar(&f.timeout, "timeout", 0, "per-request timeout in seconds")
}

// apply 把显式给出的命令行值盖在配置之上;布尔开关只开不关,
// 与环境变量的行为保持一致
func (f *cliFlags) apply(cfg *config.Config) {
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.dry {
		cfg.Processing.DryRun = true
	}
	if f.paperlessURL != "" {
		cfg.Paperless.BaseURL = f.paperlessURL
	}
	if f.paperlessKey != "" {
		cfg.Paperless.APIKey = f.paperlessKey
	}
	if f.mistralKey != "" {
		cfg.Mistral.APIKey = f.mistralKey
	}
	if f.mistralModel != "" {
		cfg.Mistral.Model = f.mistralModel
	}
	if f.ocrModel != "" {
		cfg.Mistral.OCRModel = f.ocrModel
	}
	if f.usePaperlessOCR {
		cfg.Processing.UsePaperlessOCR = true
	}
	if f.trackProcessed {
		cfg.Processing.TrackProcessed = true
	}
	if f.processedFieldID > 0 {
		cfg.Processing.ProcessedFieldID = f.processedFieldID
	}
	if f.processedFieldName != "" {
		cfg.Processing.ProcessedFieldName = f.processedFieldName
	}
	if f.reprocess {
		cfg.Processing.Reprocess = true
	}
	if f.timeout > 0 {
		cfg.Paperless.Timeout = f.timeout
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: paperless-mistral [flags] <command>

commands:
  all      process every document in the store
           all [--exclude id ...] [--filterstr query]
  single   process one document
           single [--source path] <document_id>

flags:
`)
	flag.PrintDefaults()
}

func main() {
	var flags cliFlags
	registerFlags(flag.CommandLine, &flags)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flags.apply(cfg)

	// 初始化日志
	log := newLogger(cfg)
	defer log.Sync()

	// 信号触发优雅取消,正在处理的文档收尾后退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := wire(cfg, log)

	var result *runner.RunResult
	args := flag.Args()
	mode := args[0]

	switch mode {
	case "all":
		fs := flag.NewFlagSet("all", flag.ExitOnError)
		var exclude intList
		fs.Var(&exclude, "exclude", "document ID to skip, repeatable")
		filterstr := fs.String("filterstr", "", "raw query string to filter the document listing")
		fs.Parse(args[1:])

		result, err = run.RunAll(ctx, exclude, *filterstr)

	case "single":
		fs := flag.NewFlagSet("single", flag.ExitOnError)
		source := fs.String("source", "", "local file path, bypasses the store download")
		fs.Parse(args[1:])

		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: paperless-mistral [flags] single [--source path] <document_id>")
			os.Exit(2)
		}
		docID, convErr := strconv.Atoi(fs.Arg(0))
		if convErr != nil || docID <= 0 {
			fmt.Fprintf(os.Stderr, "invalid document ID %q\n", fs.Arg(0))
			os.Exit(2)
		}

		result, err = run.RunSingle(ctx, docID, *source)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("run failed", logger.Error(err))
		os.Exit(1)
	}
	if mode == "single" && result.Failed > 0 {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) logger.Logger {
	outputs := []string{"stdout"}
	if cfg.LogFile != "" {
		outputs = append(outputs, cfg.LogFile)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.LogLevel),
		logger.WithEncoding("console"),
		logger.WithOutputPaths(outputs),
	)
	if err != nil {
		panic(err)
	}
	return log
}

// wire 按依赖顺序组装:HTTP 客户端 → 文档库 → LLM → tracker → 流水线 → runner
func wire(cfg *config.Config, log logger.Logger) *runner.Runner {
	rc := request.New(request.Config{
		Timeout:     time.Duration(cfg.Paperless.Timeout) * time.Second,
		BackoffUnit: time.Second,
		Headers:     map[string]string{"Authorization": "Token " + cfg.Paperless.APIKey},
	}, log)

	store := paperless.New(cfg.Paperless, rc, log)
	provider := mistral.New(cfg.Mistral, log)
	marker := tracker.New(store, cfg.Processing, log)

	build := func(fieldID int) runner.Pipeline {
		return processor.NewService(store, provider, marker, log, &processor.ServiceConfig{
			UsePaperlessOCR:    cfg.Processing.UsePaperlessOCR,
			VerifyContent:      cfg.Processing.VerifyContent,
			TrackProcessed:     cfg.Processing.TrackProcessed,
			Reprocess:          cfg.Processing.Reprocess,
			DryRun:             cfg.Processing.DryRun,
			ProcessedFieldID:   fieldID,
			TitlePrompt:        cfg.Processing.TitlePrompt,
			VerificationPrompt: cfg.Processing.VerificationPrompt,
		})
	}

	return runner.New(store, marker, build, cfg.Processing, log)
}
