package mistral

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// fakeProvider 模拟 Mistral API 三个端点
type fakeProvider struct {
	srv *httptest.Server

	mu           sync.Mutex
	auth         string
	uploads      int
	uploadedName string
	purpose      string
	deleted      []string
	ocrDocuments []map[string]interface{}
	chatBodies   []map[string]interface{}
	chatReply    string
	ocrStatus    int
	ocrCalls     int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{chatReply: `{"title":"untitled"}`}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(64<<20))
		f.purpose = r.FormValue("purpose")
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		f.uploadedName = header.Filename
		f.uploads++
		json.NewEncoder(w).Encode(map[string]string{"id": "file-123"})
	})
	mux.HandleFunc("/v1/files/file-123/url", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": f.srv.URL + "/signed/file-123"})
	})
	mux.HandleFunc("/v1/files/file-123", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		f.mu.Lock()
		f.deleted = append(f.deleted, "file-123")
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/ocr", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ocrCalls++
		if f.ocrStatus != 0 {
			w.WriteHeader(f.ocrStatus)
			return
		}
		var body struct {
			Model    string                 `json:"model"`
			Document map[string]interface{} `json:"document"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.ocrDocuments = append(f.ocrDocuments, body.Document)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pages": []map[string]interface{}{
				{"index": 0, "markdown": "Page one"},
				{"index": 1, "markdown": "Page two"},
			},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.chatBodies = append(f.chatBodies, body)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": f.chatReply}},
			},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	t.Helper()
	return New(config.MistralConfig{
		BaseURL:  f.srv.URL,
		APIKey:   "test-key",
		Model:    "mistral-large-latest",
		OCRModel: "mistral-ocr-latest",
	}, logger.NewTestLogger())
}

func TestExtractTextPDFUploadsAndCleansUp(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	path := filepath.Join(t.TempDir(), "document_12.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test document"), 0644))

	text, err := c.ExtractText(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Page one\n\nPage two", text)
	assert.Equal(t, 1, f.uploads)
	assert.Equal(t, "ocr", f.purpose)
	assert.Equal(t, "document_12.pdf", f.uploadedName)
	assert.Equal(t, []string{"file-123"}, f.deleted)
	assert.Equal(t, "Bearer test-key", f.auth)

	require.Len(t, f.ocrDocuments, 1)
	assert.Equal(t, "document_url", f.ocrDocuments[0]["type"])
	assert.Equal(t, f.srv.URL+"/signed/file-123", f.ocrDocuments[0]["document_url"])
}

func TestExtractTextImageUsesInlineDataURI(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3, 4}
	path := filepath.Join(t.TempDir(), "document_13.png")
	require.NoError(t, os.WriteFile(path, png, 0644))

	text, err := c.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Page one\n\nPage two", text)

	// 图片不走上传,直接内联
	assert.Zero(t, f.uploads)
	require.Len(t, f.ocrDocuments, 1)
	assert.Equal(t, "image_url", f.ocrDocuments[0]["type"])

	uri, _ := f.ocrDocuments[0]["image_url"].(string)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, png, decoded)
}

func TestExtractTextRejectsInvalidFileBeforeUpload(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	path := filepath.Join(t.TempDir(), "document_14.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := c.ExtractText(context.Background(), path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMPTY_FILE")
	assert.Zero(t, f.uploads)
	assert.Empty(t, f.ocrDocuments)
}

func TestExtractTextDeletesUploadWhenOCRFails(t *testing.T) {
	f := newFakeProvider(t)
	f.ocrStatus = http.StatusInternalServerError
	c := newTestClient(t, f)

	path := filepath.Join(t.TempDir(), "document_15.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0644))

	_, err := c.ExtractText(context.Background(), path)

	require.Error(t, err)
	assert.Equal(t, []string{"file-123"}, f.deleted)
}

func TestProcessOCRServerErrorIsSingleAttempt(t *testing.T) {
	f := newFakeProvider(t)
	f.ocrStatus = http.StatusServiceUnavailable
	c := newTestClient(t, f)

	_, err := c.ProcessOCR(context.Background(), map[string]interface{}{"type": "document_url"})

	// 这一层不重试,瞬时错误交给上游的按文档重试
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 503")
	assert.Equal(t, 1, f.ocrCalls)
}

func TestChatJSONRequestShape(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	_, err := c.ChatJSON(context.Background(), "system prompt", "user content")
	require.NoError(t, err)

	require.Len(t, f.chatBodies, 1)
	body := f.chatBodies[0]
	assert.Equal(t, "mistral-large-latest", body["model"])

	messages, _ := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	first, _ := messages[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "system prompt", first["content"])

	format, _ := body["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])
}

func TestGenerateTitleParsesEnvelope(t *testing.T) {
	f := newFakeProvider(t)
	f.chatReply = `{"title":"bank_statement_2023","explanation":"monthly bank statement"}`
	c := newTestClient(t, f)

	result, err := c.GenerateTitle(context.Background(), "prompt", "content")
	require.NoError(t, err)

	assert.Equal(t, "bank_statement_2023", result.Title)
	assert.Equal(t, "monthly bank statement", result.Explanation)
}

func TestGenerateTitleMissingTitleErrors(t *testing.T) {
	f := newFakeProvider(t)
	f.chatReply = `{"explanation":"no title here"}`
	c := newTestClient(t, f)

	_, err := c.GenerateTitle(context.Background(), "prompt", "content")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing title")
}

func TestGenerateTitleMalformedJSONErrors(t *testing.T) {
	f := newFakeProvider(t)
	f.chatReply = `this is not json`
	c := newTestClient(t, f)

	_, err := c.GenerateTitle(context.Background(), "prompt", "content")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse title response")
}

func TestVerifyContentVerdicts(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	f.chatReply = `{"is_garbage":true}`
	verdict, err := c.VerifyContent(context.Background(), "prompt", "text")
	require.NoError(t, err)
	assert.True(t, verdict.IsGarbage)

	f.chatReply = `{"is_garbage":false}`
	verdict, err = c.VerifyContent(context.Background(), "prompt", "text")
	require.NoError(t, err)
	assert.False(t, verdict.IsGarbage)
}

func TestVerifyContentNeverGuesses(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	f.chatReply = `{"quality":"fine"}`
	_, err := c.VerifyContent(context.Background(), "prompt", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing is_garbage")

	f.chatReply = `not a json object`
	_, err = c.VerifyContent(context.Background(), "prompt", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse verification response")
}
