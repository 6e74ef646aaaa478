// internal/mistral/ocr.go
package mistral

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// ExtractText OCRs a local file. PDFs go through upload and a signed URL;
// anything else is embedded inline as a base64 data URI.
func (c *Client) ExtractText(ctx context.Context, path string) (string, error) {
	// 上传前先做本地校验
	result, err := c.validator.ValidateFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to validate file: %w", err)
	}
	if verr := result.Err(); verr != nil {
		return "", fmt.Errorf("file rejected before upload: %w", verr)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return c.extractPDF(ctx, path)
	}
	return c.extractImage(ctx, path)
}

func (c *Client) extractPDF(ctx context.Context, path string) (string, error) {
	fileID, err := c.UploadFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	// 上传的文件用完即删,上下文取消也要删
	defer func() {
		if err := c.DeleteFile(context.WithoutCancel(ctx), fileID); err != nil {
			c.log.Warn("failed to delete uploaded file",
				logger.String("file_id", fileID),
				logger.Error(err))
			return
		}
		c.log.Debug("deleted uploaded file", logger.String("file_id", fileID))
	}()

	signedURL, err := c.SignedURL(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to get signed url: %w", err)
	}
	return c.ProcessOCR(ctx, map[string]interface{}{
		"type":         "document_url",
		"document_url": signedURL,
	})
}

func (c *Client) extractImage(ctx context.Context, path string) (string, error) {
	c.log.Warn("performing OCR on image file, less tested than the PDF path",
		logger.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image file: %w", err)
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s",
		mimeFromExtension(path), base64.StdEncoding.EncodeToString(data))
	return c.ProcessOCR(ctx, map[string]interface{}{
		"type":      "image_url",
		"image_url": dataURI,
	})
}

// mimeFromExtension 按扩展名推断 MIME,默认 jpeg
func mimeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
