package processor

import (
	"context"

	"github.com/feichai0017/paperless-mistral/internal/models"
)

// Store is the document store surface the pipeline reads and mutates.
type Store interface {
	Get(ctx context.Context, id int) *models.Document
	UpdateTitle(ctx context.Context, id int, title string)
	UpdateContent(ctx context.Context, id int, content string)
	FindSimilar(ctx context.Context, id, limit int) []models.SimilarDocument
}

// Provider performs OCR and structured generation.
type Provider interface {
	ExtractText(ctx context.Context, path string) (string, error)
	GenerateTitle(ctx context.Context, prompt, input string) (*models.TitleResult, error)
	VerifyContent(ctx context.Context, prompt, text string) (*models.Verdict, error)
}

// Marker reads and writes the processed flag on documents.
type Marker interface {
	IsProcessed(doc *models.Document, fieldID int) bool
	MarkProcessed(ctx context.Context, id, fieldID int) bool
}

type DocumentProcessor interface {
	Process(ctx context.Context, docID int, sourcePath string) *models.Outcome
}
