package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/models"
)

func TestEstimatePage(t *testing.T) {
	cases := []struct {
		index, chunks, pages int
		want                 int
		ok                   bool
	}{
		{0, 4, 10, 1, true},
		{1, 4, 10, 3, true},
		{3, 4, 10, 8, true},
		{9, 10, 3, 3, true},
		{0, 1, 10, 0, false},
		{2, 5, 1, 0, false},
		{2, 5, 0, 0, false},
	}
	for _, c := range cases {
		got, ok := EstimatePage(c.index, c.chunks, c.pages)
		assert.Equal(t, c.ok, ok, "%+v", c)
		assert.Equal(t, c.want, got, "%+v", c)
	}
}

func TestEstimatePage_WithinBounds(t *testing.T) {
	for pages := 2; pages <= 40; pages++ {
		for chunks := 2; chunks <= 60; chunks++ {
			for i := 0; i < chunks; i++ {
				page, ok := EstimatePage(i, chunks, pages)
				require.True(t, ok)
				require.GreaterOrEqual(t, page, 1)
				require.LessOrEqual(t, page, pages)
			}
		}
	}
}

func TestBuildChunks(t *testing.T) {
	material := &models.Material{
		ID:       primitive.NewObjectID(),
		Title:    "Thyroid Handbook",
		Category: models.CategoryEndocrinology,
		Author:   "R. Lima",
		Tags:     []string{"thyroid", "iodine"},
	}

	chunks := BuildChunks(material, []string{"one", "two", "three"}, 6)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, ChunkID(material.ID.Hex(), i), c.ID)
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, material.ID.Hex(), c.Metadata.MaterialID)
		assert.Equal(t, "Thyroid Handbook", c.Metadata.MaterialTitle)
		assert.Equal(t, models.CategoryEndocrinology, c.Metadata.MaterialCategory)
		assert.Equal(t, []string{"thyroid", "iodine"}, c.Metadata.Tags)
		require.NotNil(t, c.Metadata.PageNumber)
	}
	assert.Equal(t, 1, *chunks[0].Metadata.PageNumber)
	assert.Equal(t, 3, *chunks[1].Metadata.PageNumber)
	assert.Equal(t, 5, *chunks[2].Metadata.PageNumber)
	assert.Equal(t, material.ID.Hex()+"-chunk-2", chunks[2].ID)
}

func TestBuildChunks_NoPages(t *testing.T) {
	material := &models.Material{ID: primitive.NewObjectID()}

	chunks := BuildChunks(material, []string{"a", "b"}, 0)

	require.Len(t, chunks, 2)
	assert.Nil(t, chunks[0].Metadata.PageNumber)
	assert.Nil(t, chunks[1].Metadata.PageNumber)
}
