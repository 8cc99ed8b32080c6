package chunking

import (
	"fmt"

	"material-indexing-platform/models"
)

// ChunkID returns the deterministic id of a material's chunk
func ChunkID(materialID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", materialID, index)
}

// EstimatePage spreads chunks evenly over the document's pages.
// Returns false when there is nothing to estimate (one page or one chunk).
func EstimatePage(chunkIndex, totalChunks, totalPages int) (int, bool) {
	if totalPages <= 1 || totalChunks <= 1 {
		return 0, false
	}
	page := chunkIndex*totalPages/totalChunks + 1
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	return page, true
}

// BuildChunks wraps split segments of a material in IndexedChunks
func BuildChunks(material *models.Material, segments []string, totalPages int) []models.IndexedChunk {
	materialID := material.ID.Hex()
	chunks := make([]models.IndexedChunk, len(segments))
	for i, segment := range segments {
		meta := models.ChunkMetadata{
			MaterialID:       materialID,
			MaterialTitle:    material.Title,
			MaterialCategory: material.Category,
			ChunkIndex:       i,
			Author:           material.Author,
			Tags:             material.Tags,
		}
		if page, ok := EstimatePage(i, len(segments), totalPages); ok {
			meta.PageNumber = &page
		}
		chunks[i] = models.IndexedChunk{
			ID:       ChunkID(materialID, i),
			Text:     segment,
			Metadata: meta,
		}
	}
	return chunks
}
