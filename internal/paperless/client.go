package paperless

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/models"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
	"github.com/feichai0017/paperless-mistral/pkg/request"
)

// Client 封装 Paperless REST API 访问
type Client struct {
	baseURL string
	rc      *request.Client
	log     logger.Logger
}

// New creates a store client. Authentication lives in the request client's
// default headers; this type only knows URLs and payload shapes.
func New(cfg config.PaperlessConfig, rc *request.Client, log logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		rc:      rc,
		log:     log.Named("paperless"),
	}
}

// ListAll retrieves every document, following the pagination cursor until
// exhausted. filter is a raw query string passed through to the store.
// A first-page failure yields an empty slice; a later page failure yields
// what was accumulated so far. Both are logged.
func (c *Client) ListAll(ctx context.Context, filter string) []models.Document {
	pageURL := c.baseURL + "/api/documents/"
	if filter != "" {
		pageURL += "?" + filter
	}

	var docs []models.Document
	total := -1
	page := 1
	for pageURL != "" {
		c.log.Debug("retrieving page", logger.Int("page", page))
		resp := c.rc.Do(ctx, http.MethodGet, pageURL, nil, nil)
		if resp == nil {
			return c.abortListing(page, docs, total)
		}

		var pg models.DocumentPage
		if err := resp.JSON(&pg); err != nil {
			c.log.Error("failed to decode document page",
				logger.Int("page", page),
				logger.Error(err))
			return c.abortListing(page, docs, total)
		}

		if total < 0 {
			total = pg.Count
			c.log.Info("found documents", logger.Int("total", total))
		}
		docs = append(docs, pg.Results...)
		c.log.Info("retrieved documents",
			logger.Int("retrieved", len(docs)),
			logger.Int("total", total))

		pageURL = pg.Next
		page++
	}
	return docs
}

func (c *Client) abortListing(page int, docs []models.Document, total int) []models.Document {
	if page == 1 {
		c.log.Error("could not retrieve documents")
		return nil
	}
	// 中途失败时保留已取到的部分
	c.log.Error("pagination aborted, returning partial listing",
		logger.Int("retrieved", len(docs)),
		logger.Int("total", total))
	return docs
}

// Get fetches a single document, nil on failure
func (c *Client) Get(ctx context.Context, id int) *models.Document {
	resp := c.rc.Do(ctx, http.MethodGet, fmt.Sprintf("%s/api/documents/%d/", c.baseURL, id), nil, nil)
	if resp == nil {
		c.log.Error("could not retrieve document info", logger.Int("doc_id", id))
		return nil
	}
	var doc models.Document
	if err := resp.JSON(&doc); err != nil {
		c.log.Error("failed to decode document",
			logger.Int("doc_id", id),
			logger.Error(err))
		return nil
	}
	return &doc
}

// Download streams the document's original file into dir and returns the
// scratch path, "" on failure. The file is named document_<id> with the
// extension taken from Content-Disposition, .pdf when absent.
func (c *Client) Download(ctx context.Context, id int, dir string) string {
	downloadURL := fmt.Sprintf("%s/api/documents/%d/download/", c.baseURL, id)
	st, err := c.rc.DoStream(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		c.log.Error("failed to download document",
			logger.Int("doc_id", id),
			logger.Error(err))
		return ""
	}
	defer st.Body.Close()

	path := filepath.Join(dir, fmt.Sprintf("document_%d%s", id, extensionFrom(st.Header.Get("Content-Disposition"))))
	f, err := os.Create(path)
	if err != nil {
		c.log.Error("failed to create scratch file",
			logger.String("path", path),
			logger.Error(err))
		return ""
	}

	// 8KiB 分块写入,失败时删除残缺文件
	buf := make([]byte, 8192)
	if _, err := io.CopyBuffer(f, st.Body, buf); err != nil {
		f.Close()
		os.Remove(path)
		c.log.Error("failed to write document file",
			logger.Int("doc_id", id),
			logger.String("path", path),
			logger.Error(err))
		return ""
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		c.log.Error("failed to close scratch file",
			logger.String("path", path),
			logger.Error(err))
		return ""
	}

	c.log.Debug("downloaded document",
		logger.Int("doc_id", id),
		logger.String("path", path))
	return path
}

// extensionFrom pulls the file extension out of a Content-Disposition
// header, .pdf when the header is missing or unparsable.
func extensionFrom(disposition string) string {
	if disposition == "" {
		return ".pdf"
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ".pdf"
	}
	if ext := filepath.Ext(params["filename"]); ext != "" {
		return strings.ToLower(ext)
	}
	return ".pdf"
}

// UpdateTitle patches the document title. Fire and forget: outcome is
// logged, never returned.
func (c *Client) UpdateTitle(ctx context.Context, id int, title string) {
	resp := c.rc.Do(ctx, http.MethodPatch, fmt.Sprintf("%s/api/documents/%d/", c.baseURL, id),
		map[string]string{"title": title}, nil)
	if resp == nil {
		c.log.Error("could not update document title",
			logger.Int("doc_id", id),
			logger.String("title", title))
		return
	}
	c.log.Info("updated document title",
		logger.Int("doc_id", id),
		logger.String("title", title))
}

// UpdateContent patches the document content. Fire and forget.
func (c *Client) UpdateContent(ctx context.Context, id int, content string) {
	resp := c.rc.Do(ctx, http.MethodPatch, fmt.Sprintf("%s/api/documents/%d/", c.baseURL, id),
		map[string]string{"content": content}, nil)
	if resp == nil {
		c.log.Error("could not update document content", logger.Int("doc_id", id))
		return
	}
	c.log.Info("updated document content",
		logger.Int("doc_id", id),
		logger.Int("length", len(content)))
}

// PatchCustomFields replaces the document's full custom field list
func (c *Client) PatchCustomFields(ctx context.Context, id int, fields []models.CustomFieldValue) bool {
	resp := c.rc.Do(ctx, http.MethodPatch, fmt.Sprintf("%s/api/documents/%d/", c.baseURL, id),
		map[string]interface{}{"custom_fields": fields}, nil)
	return resp != nil
}

// ListCustomFields returns the store's field definitions, nil on failure
func (c *Client) ListCustomFields(ctx context.Context) []models.CustomField {
	resp := c.rc.Do(ctx, http.MethodGet, c.baseURL+"/api/custom_fields/", nil, nil)
	if resp == nil {
		c.log.Error("could not retrieve custom fields")
		return nil
	}
	var out struct {
		Results []models.CustomField `json:"results"`
	}
	if err := resp.JSON(&out); err != nil {
		c.log.Error("failed to decode custom fields", logger.Error(err))
		return nil
	}
	return out.Results
}

// CreateCustomField creates a number-typed field for timestamps
func (c *Client) CreateCustomField(ctx context.Context, name string) *models.CustomField {
	body := map[string]interface{}{
		"name":      name,
		"data_type": "number", // UNIX 时间戳
		"required":  false,
	}
	resp := c.rc.Do(ctx, http.MethodPost, c.baseURL+"/api/custom_fields/", body, nil)
	if resp == nil {
		c.log.Error("could not create custom field", logger.String("name", name))
		return nil
	}
	var field models.CustomField
	if err := resp.JSON(&field); err != nil {
		c.log.Error("failed to decode created custom field", logger.Error(err))
		return nil
	}
	c.log.Info("created custom field",
		logger.String("name", field.Name),
		logger.Int("field_id", field.ID))
	return &field
}

// FindSimilar runs a more-like query ordered by relevance, excluding the
// document itself. Empty result on failure; callers treat that as benign.
func (c *Client) FindSimilar(ctx context.Context, id, limit int) []models.SimilarDocument {
	q := url.Values{}
	q.Set("more_like_id", strconv.Itoa(id))
	q.Set("ordering", "-score")
	q.Set("page_size", strconv.Itoa(limit))

	resp := c.rc.Do(ctx, http.MethodGet, c.baseURL+"/api/documents/?"+q.Encode(), nil, nil)
	if resp == nil {
		c.log.Warn("could not retrieve similar documents", logger.Int("doc_id", id))
		return nil
	}
	var out struct {
		Results []models.SimilarDocument `json:"results"`
	}
	if err := resp.JSON(&out); err != nil {
		c.log.Warn("failed to decode similar documents", logger.Error(err))
		return nil
	}

	// 剔除文档自身
	similar := make([]models.SimilarDocument, 0, len(out.Results))
	for _, d := range out.Results {
		if d.ID != id {
			similar = append(similar, d)
		}
	}
	return similar
}
