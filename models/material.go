package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Material is an uploaded reference document tracked through extraction and indexing
type Material struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    Category           `bson:"category" json:"category"`
	Tags        []string           `bson:"tags" json:"tags"`
	Author      string             `bson:"author,omitempty" json:"author,omitempty"`
	PublishedAt *time.Time         `bson:"published_at,omitempty" json:"published_at,omitempty"`

	// Storage linkage. The object key is {organization_id}/{file_name}.
	FileName    string `bson:"file_name" json:"file_name"`
	FileURL     string `bson:"file_url,omitempty" json:"file_url,omitempty"`
	FileSize    int64  `bson:"file_size" json:"file_size"`
	FileType    string `bson:"file_type" json:"file_type"`
	ContentType string `bson:"content_type,omitempty" json:"content_type,omitempty"`

	ProcessingStatus string                 `bson:"processing_status" json:"processing_status"`
	TextContent      *string                `bson:"text_content,omitempty" json:"-"`
	Metadata         map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	LastIndexed      *time.Time             `bson:"last_indexed,omitempty" json:"last_indexed,omitempty"`

	UploadedBy     primitive.ObjectID `bson:"uploaded_by,omitempty" json:"uploaded_by,omitempty"`
	OrganizationID primitive.ObjectID `bson:"organization_id" json:"organization_id"`
	IsPublic       bool               `bson:"is_public" json:"is_public"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ObjectKey returns the storage key of the material's file
func (m *Material) ObjectKey() string {
	return m.OrganizationID.Hex() + "/" + m.FileName
}

// Text returns the extracted text or "" when the material was never indexed
func (m *Material) Text() string {
	if m.TextContent == nil {
		return ""
	}
	return *m.TextContent
}

// VisibleTo reports whether an organization may read the material
func (m *Material) VisibleTo(orgID primitive.ObjectID) bool {
	return m.IsPublic || m.OrganizationID == orgID
}

// PageCount returns the page count recorded by extraction, or 0
func (m *Material) PageCount() int {
	if m.Metadata == nil {
		return 0
	}
	switch v := m.Metadata[MetaPageCount].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Metadata keys written by the indexing pipeline
const (
	MetaExtractor       = "extractor"
	MetaPageCount       = "pageCount"
	MetaLineCount       = "lineCount"
	MetaSheetCount      = "sheetCount"
	MetaCharacterCount  = "characterCount"
	MetaWordCount       = "wordCount"
	MetaChunkCount      = "chunkCount"
	MetaProcessedAt     = "processedAt"
	MetaProcessingError = "processingError"
)

// Category is the closed set of material subjects
type Category string

const (
	CategoryGeneralHealth       Category = "general_health"
	CategoryNutrition           Category = "nutrition"
	CategoryEndocrinology       Category = "endocrinology"
	CategoryGynecology          Category = "gynecology"
	CategoryFertility           Category = "fertility"
	CategoryTraditionalMedicine Category = "traditional_medicine"
	CategoryFunctionalMedicine  Category = "functional_medicine"
	CategoryNaturopathy         Category = "naturopathy"
	CategoryAcademicPaper       Category = "academic_paper"
	CategoryClinicalGuideline   Category = "clinical_guideline"
	CategoryBookExcerpt         Category = "book_excerpt"
	CategoryOther               Category = "other"
)

var validCategories = map[Category]bool{
	CategoryGeneralHealth:       true,
	CategoryNutrition:           true,
	CategoryEndocrinology:       true,
	CategoryGynecology:          true,
	CategoryFertility:           true,
	CategoryTraditionalMedicine: true,
	CategoryFunctionalMedicine:  true,
	CategoryNaturopathy:         true,
	CategoryAcademicPaper:       true,
	CategoryClinicalGuideline:   true,
	CategoryBookExcerpt:         true,
	CategoryOther:               true,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	return validCategories[c]
}

// IndexedChunk is a retrieval unit derived from a material's text. Never persisted.
type IndexedChunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata describes where a chunk came from
type ChunkMetadata struct {
	MaterialID       string   `json:"material_id"`
	MaterialTitle    string   `json:"material_title"`
	MaterialCategory Category `json:"material_category"`
	ChunkIndex       int      `json:"chunk_index"`
	Author           string   `json:"author,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	PageNumber       *int     `json:"page_number,omitempty"`
}

// IndexingResult reports the outcome of one processing run
type IndexingResult struct {
	Success     bool           `json:"success"`
	MaterialID  string         `json:"material_id"`
	Chunks      []IndexedChunk `json:"chunks,omitempty"`
	TotalChunks int            `json:"total_chunks"`
	Error       string         `json:"error,omitempty"`
}

// ReprocessSummary tallies a batch reprocess run
type ReprocessSummary struct {
	Success  int `json:"success"`
	Failures int `json:"failures"`
}
