package models

// Document 文档对象,只保留管道会读取的字段
type Document struct {
	ID               int                `json:"id"`
	Title            string             `json:"title"`
	Content          string             `json:"content"`
	Created          string             `json:"created,omitempty"`
	OriginalFileName string             `json:"original_file_name,omitempty"`
	ArchivedFileName string             `json:"archived_file_name,omitempty"`
	CustomFields     []CustomFieldValue `json:"custom_fields"`
}

// CustomFieldValue 挂在文档上的自定义字段实例
type CustomFieldValue struct {
	Field int         `json:"field"`
	Value interface{} `json:"value"`
}

// CustomField 自定义字段定义
type CustomField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// DocumentPage is one page of the paginated document listing
type DocumentPage struct {
	Count    int        `json:"count"`
	Next     string     `json:"next"`
	Previous string     `json:"previous"`
	Results  []Document `json:"results"`
}

// SimilarDocument is one hit from a more-like similarity query
type SimilarDocument struct {
	ID    int     `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// TitleResult is the parsed title-generation envelope
type TitleResult struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation,omitempty"`
}

// Verdict is the parsed garbage-verification envelope
type Verdict struct {
	IsGarbage bool `json:"is_garbage"`
}

// OutcomeStatus 单个文档的处理结果分类
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusSkipped   OutcomeStatus = "skipped"
	StatusFailed    OutcomeStatus = "failed"
)

// Outcome is what the pipeline hands back to the batch runner.
// Failed outcomes are retryable; skipped and succeeded are terminal.
type Outcome struct {
	DocID  int
	Status OutcomeStatus
	Reason string
	Title  string // set when a new title was applied
}

// Retryable reports whether the runner may attempt the document again
func (o *Outcome) Retryable() bool {
	return o.Status == StatusFailed
}
