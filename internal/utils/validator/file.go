// internal/utils/validator/file.go
package validator

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// FileValidator 上传前的本地文件校验
type FileValidator struct {
	logger logger.Logger
	config *Config
}

// Config 校验器配置
type Config struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
}

// Err returns the first validation error, nil when the file passed
func (r *ValidationResult) Err() error {
	if r.IsValid || len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Errors[0].Code, r.Errors[0].Message)
}

// NewFileValidator 创建新的文件校验器
func NewFileValidator(log logger.Logger, config *Config) *FileValidator {
	if config == nil {
		config = &Config{
			MaxFileSize: 50 * 1024 * 1024, // 提供商上传上限 50MB
			AllowedTypes: map[string][]string{
				".pdf":  {"application/pdf"},
				".jpg":  {"image/jpeg"},
				".jpeg": {"image/jpeg"},
				".png":  {"image/png"},
				".gif":  {"image/gif"},
				".webp": {"image/webp"},
				".tiff": {"image/tiff", "application/octet-stream"},
			},
		}
	}
	return &FileValidator{
		logger: log.Named("validator"),
		config: config,
	}
}

// ValidateFile 校验一个本地文件。I/O 故障返回 error,内容问题记进结果
func (v *FileValidator) ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Path:      path,
			Extension: strings.ToLower(filepath.Ext(path)),
		},
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Code:    "NOT_A_FILE",
			Message: fmt.Sprintf("%s is not a regular file", path),
			Field:   "path",
		})
		return result, nil
	}
	result.FileInfo.Size = info.Size()

	// 基本验证
	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	// MIME类型验证
	mimeType, err := v.detectMimeType(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	result.FileInfo.MimeType = mimeType

	if errs := v.validateMimeType(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	if !result.IsValid {
		v.logger.Warn("file failed validation",
			logger.String("path", path),
			logger.Any("errors", result.Errors))
	}
	return result, nil
}

// 基本验证
func (v *FileValidator) performBasicValidation(fileInfo FileInfo) []ValidationError {
	var errors []ValidationError

	if fileInfo.Size == 0 {
		errors = append(errors, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}

	if fileInfo.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}

	if _, ok := v.config.AllowedTypes[fileInfo.Extension]; !ok {
		errors = append(errors, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", fileInfo.Extension),
			Field:   "extension",
		})
	}

	return errors
}

// MIME类型验证
func (v *FileValidator) validateMimeType(fileInfo FileInfo) []ValidationError {
	allowedMimes, ok := v.config.AllowedTypes[fileInfo.Extension]
	if !ok {
		// 扩展名校验已经报过错
		return nil
	}

	for _, m := range allowedMimes {
		if m == fileInfo.MimeType {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", fileInfo.MimeType, fileInfo.Extension),
		Field:   "mimeType",
	}}
}

// 检测MIME类型
func (v *FileValidator) detectMimeType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// 读取文件头部
	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	mimeType := http.DetectContentType(buffer[:n])
	// DetectContentType 带字符集后缀,这里只要主类型
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType, nil
}

// TODO: PDF 页数和加密校验,候选 pdfcpu
