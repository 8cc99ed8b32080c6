package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/models"
)

var (
	ErrMaterialNotFound  = errors.New("material not found")
	ErrInvalidMaterial   = errors.New("invalid material")
	ErrNotOwner          = errors.New("material belongs to another organization")
	ErrInvalidTransition = errors.New("invalid processing status transition")
)

// MaxSearchResults caps SearchMaterials
const MaxSearchResults = 50

// SearchFilters are ANDed with the text query
type SearchFilters struct {
	Categories     []models.Category
	Tags           []string
	OrganizationID *primitive.ObjectID
	// VisibleTo restricts results to the organization's own and public materials
	VisibleTo *primitive.ObjectID
}

// MaterialStore persists materials. Lists and searches omit text_content;
// FindByID returns the full document.
type MaterialStore interface {
	Insert(ctx context.Context, material *models.Material) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Material, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status string, at time.Time) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, processingError string, at time.Time) error
	MarkIndexed(ctx context.Context, id primitive.ObjectID, text string, metadata map[string]interface{}, at time.Time) error
	Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]models.Material, error)
	FindByStatuses(ctx context.Context, statuses ...string) ([]models.Material, error)
	List(ctx context.Context, orgID primitive.ObjectID, skip, limit int64) ([]models.Material, int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}
