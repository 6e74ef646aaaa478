package tracker

import (
	"context"
	"time"

	"github.com/feichai0017/paperless-mistral/config"
	"github.com/feichai0017/paperless-mistral/internal/models"
	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// Store 是 tracker 所需的文档库操作子集
type Store interface {
	Get(ctx context.Context, id int) *models.Document
	PatchCustomFields(ctx context.Context, id int, fields []models.CustomFieldValue) bool
	ListCustomFields(ctx context.Context) []models.CustomField
	CreateCustomField(ctx context.Context, name string) *models.CustomField
}

// Tracker stamps documents with a custom field so reruns can skip them.
type Tracker struct {
	store     Store
	fieldID   int
	fieldName string
	log       logger.Logger
	now       func() time.Time
}

func New(store Store, cfg config.ProcessingConfig, log logger.Logger) *Tracker {
	return &Tracker{
		store:     store,
		fieldID:   cfg.ProcessedFieldID,
		fieldName: cfg.ProcessedFieldName,
		log:       log,
		now:       time.Now,
	}
}

// EnsureField resolves the processed-marker field once per run. The
// configured ID wins, then a name match, then the field is created.
// The returned ID is the one every later check and update must use.
func (t *Tracker) EnsureField(ctx context.Context) (int, bool) {
	fields := t.store.ListCustomFields(ctx)
	if len(fields) == 0 {
		return t.createField(ctx)
	}

	for _, field := range fields {
		if field.ID == t.fieldID {
			t.log.Debug("found existing custom field",
				logger.String("name", field.Name),
				logger.Int("field_id", field.ID))
			return field.ID, true
		}
	}

	for _, field := range fields {
		if field.Name == t.fieldName {
			t.log.Info("custom field resolved by name, adopting its ID",
				logger.String("name", t.fieldName),
				logger.Int("configured_id", t.fieldID),
				logger.Int("field_id", field.ID))
			return field.ID, true
		}
	}

	return t.createField(ctx)
}

func (t *Tracker) createField(ctx context.Context) (int, bool) {
	field := t.store.CreateCustomField(ctx, t.fieldName)
	if field == nil {
		t.log.Error("could not ensure processed-marker field exists",
			logger.String("name", t.fieldName))
		return 0, false
	}
	return field.ID, true
}

// IsProcessed 按字段值的真值判断:nil、0、空串、false 都算未处理
func (t *Tracker) IsProcessed(doc *models.Document, fieldID int) bool {
	if doc == nil {
		return false
	}
	for _, cf := range doc.CustomFields {
		if cf.Field == fieldID {
			return truthy(cf.Value)
		}
	}
	return false
}

// MarkProcessed stamps the document with the current time. The field
// list is re-fetched and merged so edits to other fields survive the
// patch.
func (t *Tracker) MarkProcessed(ctx context.Context, id, fieldID int) bool {
	doc := t.store.Get(ctx, id)
	if doc == nil {
		t.log.Error("could not retrieve document info for processed update",
			logger.Int("document_id", id))
		return false
	}

	timestamp := t.now().Unix()
	updated := make([]models.CustomFieldValue, 0, len(doc.CustomFields)+1)
	found := false
	for _, cf := range doc.CustomFields {
		if cf.Field == fieldID {
			found = true
			cf.Value = timestamp
		}
		updated = append(updated, cf)
	}
	if !found {
		updated = append(updated, models.CustomFieldValue{Field: fieldID, Value: timestamp})
	}

	if !t.store.PatchCustomFields(ctx, id, updated) {
		t.log.Error("could not update processed status",
			logger.Int("document_id", id))
		return false
	}

	t.log.Info("updated processed status",
		logger.Int("document_id", id),
		logger.Int64("timestamp", timestamp))
	return true
}

// truthy mirrors the loose typing of custom-field values coming out of
// JSON: numbers arrive as float64 and timestamps may round-trip as strings.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}
