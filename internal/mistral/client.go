package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/utils/validator"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// Client 访问 Mistral 风格的 LLM API
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	ocrModel   string
	httpClient *http.Client
	validator  *validator.FileValidator
	log        logger.Logger
}

type fileUploadResponse struct {
	ID string `json:"id"`
}

type signedURLResponse struct {
	URL string `json:"url"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// New creates a provider client. OCR and chat failures surface as errors;
// transient ones are covered by the per-document retry upstream.
func New(cfg config.MistralConfig, log logger.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.mistral.ai"
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		ocrModel: cfg.OCRModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		validator: validator.NewFileValidator(log, nil),
		log:       log.Named("mistral"),
	}
}

// UploadFile 上传文件用于 OCR,返回文件 ID
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// multipart 表单: purpose=ocr + 文件内容
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out fileUploadResponse
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	c.log.Debug("uploaded file",
		logger.String("file_id", out.ID),
		logger.String("path", path))
	return out.ID, nil
}

// SignedURL 获取已上传文件的签名下载链接
func (c *Client) SignedURL(ctx context.Context, fileID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/files/%s/url", c.baseURL, fileID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out signedURLResponse
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// DeleteFile 删除已上传的文件
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/v1/files/%s", c.baseURL, fileID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.send(req, nil)
}

// ProcessOCR runs the OCR model over a document descriptor and joins the
// page markdown with blank lines
func (c *Client) ProcessOCR(ctx context.Context, document map[string]interface{}) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v1/ocr", map[string]interface{}{
		"model":    c.ocrModel,
		"document": document,
	})
	if err != nil {
		return "", err
	}

	var out ocrResponse
	if err := c.send(req, &out); err != nil {
		return "", err
	}

	// 拼接各页文本
	var sb strings.Builder
	for _, page := range out.Pages {
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

// ChatJSON sends one system+user exchange and requests a JSON object reply
func (c *Client) ChatJSON(ctx context.Context, system, user string) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// send executes the request and decodes the JSON reply into out when non-nil
func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
