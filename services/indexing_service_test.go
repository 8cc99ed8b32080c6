package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/internal/chunking"
	"material-indexing-platform/internal/extraction"
	"material-indexing-platform/internal/storage"
	"material-indexing-platform/models"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func assertLegalHistory(t *testing.T, history []string) {
	t.Helper()
	for i := 1; i < len(history); i++ {
		from, to := history[i-1], history[i]
		assert.True(t, from == to || models.CanTransition(from, to),
			"illegal transition %s -> %s in %v", from, to, history)
	}
}

// newStoredPipeline wires the real extraction manager over a local object store
func newStoredPipeline(t *testing.T) (*IndexingService, *memStore, storage.ObjectStore) {
	t.Helper()
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := newMemStore()
	manager := extraction.NewManager(objects, extraction.WithScratchDir(t.TempDir()))
	svc := NewIndexingService(store, manager, &recordingEnqueuer{},
		WithClock(fixedClock), WithObjectStore(objects))
	return svc, store, objects
}

func uploadMaterial(t *testing.T, objects storage.ObjectStore, store *memStore, fileName, content string) *models.Material {
	t.Helper()
	m := &models.Material{
		Title:          "Handbook",
		Category:       models.CategoryNutrition,
		FileName:       fileName,
		FileType:       extraction.NormalizeExtension(fileName),
		OrganizationID: primitive.NewObjectID(),
	}
	require.NoError(t, objects.Upload(context.Background(), m.OrganizationID.Hex()+"/"+fileName, strings.NewReader(content), ""))
	return store.seed(m)
}

func TestProcessMaterial_PlainTextFile(t *testing.T) {
	svc, store, objects := newStoredPipeline(t)
	text := strings.Repeat("A", 2500)
	m := uploadMaterial(t, objects, store, "repeated.txt", text)

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 3, result.TotalChunks)
	require.Len(t, result.Chunks, 3)
	for i, c := range result.Chunks {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, chunking.ChunkID(m.ID.Hex(), i), c.ID)
		assert.Nil(t, c.Metadata.PageNumber)
	}

	saved := store.get(m.ID)
	assert.Equal(t, models.StatusIndexed, saved.ProcessingStatus)
	assert.Equal(t, text, saved.Text())
	require.NotNil(t, saved.LastIndexed)
	assert.Equal(t, fixedNow, *saved.LastIndexed)
	assert.Equal(t, 3, saved.Metadata[models.MetaChunkCount])
	assert.Equal(t, "text", saved.Metadata[models.MetaExtractor])
	assert.Equal(t, fixedNow, saved.Metadata[models.MetaProcessedAt])
	assert.Equal(t, []string{models.StatusPending, models.StatusProcessing, models.StatusIndexed}, store.statuses(m.ID))
}

func TestProcessMaterial_UnsupportedFile(t *testing.T) {
	svc, store, objects := newStoredPipeline(t)
	m := uploadMaterial(t, objects, store, "scan.xyz", "binary")

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Tipo de arquivo não suportado")
	assert.Empty(t, result.Chunks)

	saved := store.get(m.ID)
	assert.Equal(t, models.StatusFailed, saved.ProcessingStatus)
	assert.Contains(t, saved.Metadata[models.MetaProcessingError], "Tipo de arquivo não suportado")
	assert.Nil(t, saved.TextContent)
	assertLegalHistory(t, store.statuses(m.ID))
}

func TestProcessMaterial_MissingObject(t *testing.T) {
	svc, store, _ := newStoredPipeline(t)
	m := store.seed(&models.Material{FileName: "gone.pdf", FileType: ".pdf", OrganizationID: primitive.NewObjectID()})

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "object not found")
	assert.Equal(t, models.StatusFailed, store.get(m.ID).ProcessingStatus)
}

func TestProcessMaterial_UnknownMaterial(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)

	result := svc.ProcessMaterial(context.Background(), primitive.NewObjectID().Hex())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ErrMaterialNotFound.Error())

	result = svc.ProcessMaterial(context.Background(), "not-an-id")
	assert.False(t, result.Success)
	assert.Equal(t, "not-an-id", result.MaterialID)
}

func TestProcessMaterial_EmptyTextFails(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "blank.pdf", OrganizationID: primitive.NewObjectID()})
	extractor := &scriptedExtractor{results: map[string]extraction.Result{
		m.ObjectKey(): {TextContent: "   ", Metadata: map[string]interface{}{}},
	}}
	svc := NewIndexingService(store, extractor, nil)

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, models.StatusFailed, store.get(m.ID).ProcessingStatus)
}

func TestProcessMaterial_EstimatesPages(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "guide.pdf", OrganizationID: primitive.NewObjectID()})
	extractor := &scriptedExtractor{results: map[string]extraction.Result{
		m.ObjectKey(): {
			TextContent: strings.Repeat("Thyroid nodules are common. ", 150),
			PageCount:   6,
			Metadata:    map[string]interface{}{"extractor": "pdftotext", "pageCount": 6},
		},
	}}
	svc := NewIndexingService(store, extractor, nil)

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	require.True(t, result.Success, result.Error)
	require.Greater(t, result.TotalChunks, 1)
	for _, c := range result.Chunks {
		require.NotNil(t, c.Metadata.PageNumber)
		assert.GreaterOrEqual(t, *c.Metadata.PageNumber, 1)
		assert.LessOrEqual(t, *c.Metadata.PageNumber, 6)
	}
	assert.Equal(t, 1, *result.Chunks[0].Metadata.PageNumber)

	// recomputed chunks use the stored page count and match the run's output
	assert.Equal(t, result.Chunks, svc.GetMaterialChunks(context.Background(), m.ID.Hex()))
}

func TestProcessMaterial_PersistenceFailure(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "a.txt", OrganizationID: primitive.NewObjectID()})
	store.failIndexed = errors.New("write concern timeout")
	extractor := &scriptedExtractor{results: map[string]extraction.Result{
		m.ObjectKey(): {TextContent: "ok", Metadata: map[string]interface{}{}},
	}}
	svc := NewIndexingService(store, extractor, nil)

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "write concern timeout")
	assert.Equal(t, models.StatusFailed, store.get(m.ID).ProcessingStatus)
}

func TestProcessMaterial_SecondaryUpdateFailureIsSwallowed(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "a.txt", OrganizationID: primitive.NewObjectID()})
	store.failMarking = errors.New("connection refused")
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)

	var result models.IndexingResult
	require.NotPanics(t, func() {
		result = svc.ProcessMaterial(context.Background(), m.ID.Hex())
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "object not found")
}

func TestProcessMaterial_RecoversPanics(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "a.pdf", OrganizationID: primitive.NewObjectID()})
	svc := NewIndexingService(store, &scriptedExtractor{panics: true}, nil)

	var result models.IndexingResult
	require.NotPanics(t, func() {
		result = svc.ProcessMaterial(context.Background(), m.ID.Hex())
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "processing crashed")
	assert.Equal(t, models.StatusFailed, store.get(m.ID).ProcessingStatus)
	assertLegalHistory(t, store.statuses(m.ID))
}

func TestProcessMaterial_ReindexKeepsLegalTransitions(t *testing.T) {
	store := newMemStore()
	m := store.seed(&models.Material{FileName: "a.txt", OrganizationID: primitive.NewObjectID()})
	extractor := &scriptedExtractor{results: map[string]extraction.Result{}}
	svc := NewIndexingService(store, extractor, nil)

	assert.False(t, svc.ProcessMaterial(context.Background(), m.ID.Hex()).Success)

	extractor.results[m.ObjectKey()] = extraction.Result{TextContent: "first", Metadata: map[string]interface{}{"extractor": "text"}}
	assert.True(t, svc.ProcessMaterial(context.Background(), m.ID.Hex()).Success)

	extractor.results[m.ObjectKey()] = extraction.Result{Error: "pdftotext failed"}
	assert.False(t, svc.ProcessMaterial(context.Background(), m.ID.Hex()).Success)

	saved := store.get(m.ID)
	assert.Equal(t, models.StatusFailed, saved.ProcessingStatus)
	assert.Equal(t, "first", saved.Text(), "a later failure keeps earlier text")
	assert.Equal(t, "text", saved.Metadata[models.MetaExtractor], "metadata is merged, not replaced")
	assert.Equal(t, "pdftotext failed", saved.Metadata[models.MetaProcessingError])

	history := store.statuses(m.ID)
	assertLegalHistory(t, history)
	assert.Equal(t, []string{
		models.StatusPending, models.StatusProcessing, models.StatusFailed,
		models.StatusPending, models.StatusProcessing, models.StatusIndexed,
		models.StatusPending, models.StatusProcessing, models.StatusFailed,
	}, history)
}

func TestGetMaterialChunks_NotReady(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)
	text := "left over from an earlier run"

	pending := store.seed(&models.Material{ProcessingStatus: models.StatusPending, TextContent: &text})
	failed := store.seed(&models.Material{ProcessingStatus: models.StatusFailed})
	empty := store.seed(&models.Material{ProcessingStatus: models.StatusIndexed})

	for _, id := range []string{pending.ID.Hex(), failed.ID.Hex(), empty.ID.Hex(), primitive.NewObjectID().Hex(), "bogus"} {
		chunks := svc.GetMaterialChunks(context.Background(), id)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	}
}

func TestProcessMaterial_WarmedCacheServesReloadedMaterial(t *testing.T) {
	store := newMemStore()
	cache := newMemChunkCache()
	m := store.seed(&models.Material{FileName: "guide.txt", OrganizationID: primitive.NewObjectID()})
	extractor := &scriptedExtractor{results: map[string]extraction.Result{
		m.ObjectKey(): {
			TextContent: strings.Repeat("Magnesium supports sleep. ", 120),
			Metadata:    map[string]interface{}{"extractor": "text"},
		},
	}}
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC) }
	svc := NewIndexingService(store, extractor, nil, WithChunkCache(cache), WithClock(clock))

	result := svc.ProcessMaterial(context.Background(), m.ID.Hex())
	require.True(t, result.Success, result.Error)

	reloaded := reloadMaterial(t, store.get(m.ID))
	chunks := svc.MaterialChunks(context.Background(), reloaded)

	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, result.Chunks, chunks)
	assert.Equal(t, clock().Truncate(time.Millisecond), *store.get(m.ID).LastIndexed)
}

func TestGetMaterialChunks_UsesCache(t *testing.T) {
	store := newMemStore()
	cache := newMemChunkCache()
	text := strings.Repeat("Iron deficiency. ", 200)
	indexed := fixedNow
	m := store.seed(&models.Material{
		ProcessingStatus: models.StatusIndexed,
		TextContent:      &text,
		LastIndexed:      &indexed,
		Metadata:         map[string]interface{}{models.MetaPageCount: 4},
	})
	svc := NewIndexingService(store, &scriptedExtractor{}, nil, WithChunkCache(cache))

	first := svc.GetMaterialChunks(context.Background(), m.ID.Hex())
	second := svc.GetMaterialChunks(context.Background(), m.ID.Hex())

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
	require.NotNil(t, first[len(first)-1].Metadata.PageNumber)
	assert.LessOrEqual(t, *first[len(first)-1].Metadata.PageNumber, 4)
}

func TestSearchMaterials_OnlyIndexedMatches(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)

	text := func(s string) *string { return &s }
	seed := func(title string, cat models.Category, status string, body string) *models.Material {
		return store.seed(&models.Material{Title: title, Category: cat, ProcessingStatus: status, TextContent: text(body)})
	}

	best := seed("Diabetes and diet", models.CategoryNutrition, models.StatusIndexed, "diabetes diabetes fiber")
	other := seed("Meal planning", models.CategoryNutrition, models.StatusIndexed, "carbohydrate counting in diabetes")
	seed("Unrelated", models.CategoryNutrition, models.StatusIndexed, "vitamin C")
	seed("Diabetes pending", models.CategoryNutrition, models.StatusPending, "diabetes")
	seed("Diabetes failed", models.CategoryNutrition, models.StatusFailed, "diabetes")
	seed("Insulin", models.CategoryEndocrinology, models.StatusIndexed, "diabetes insulin")

	results, err := svc.SearchMaterials(context.Background(), "diabetes", SearchFilters{
		Categories: []models.Category{models.CategoryNutrition},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, best.ID, results[0].ID)
	assert.Equal(t, other.ID, results[1].ID)
	for _, r := range results {
		assert.Equal(t, models.StatusIndexed, r.ProcessingStatus)
		assert.Nil(t, r.TextContent)
	}
}

func TestSearchMaterials_CapsResults(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)
	for i := 0; i < 70; i++ {
		body := "selenium"
		store.seed(&models.Material{Title: "Selenium", ProcessingStatus: models.StatusIndexed, TextContent: &body})
	}

	results, err := svc.SearchMaterials(context.Background(), "selenium", SearchFilters{})
	require.NoError(t, err)
	assert.Len(t, results, MaxSearchResults)
}

func TestReprocessFailedMaterials(t *testing.T) {
	store := newMemStore()
	org := primitive.NewObjectID()
	a := store.seed(&models.Material{FileName: "a.txt", ProcessingStatus: models.StatusFailed, OrganizationID: org})
	b := store.seed(&models.Material{FileName: "b.txt", ProcessingStatus: models.StatusFailed, OrganizationID: org})
	c := store.seed(&models.Material{FileName: "c.txt", ProcessingStatus: models.StatusPending, OrganizationID: org})
	done := store.seed(&models.Material{FileName: "d.txt", ProcessingStatus: models.StatusIndexed, OrganizationID: org})

	ok := extraction.Result{TextContent: "recovered text", Metadata: map[string]interface{}{}}
	extractor := &scriptedExtractor{results: map[string]extraction.Result{
		a.ObjectKey(): ok,
		b.ObjectKey(): {Error: "soffice convert failed: exit status 1"},
		c.ObjectKey(): ok,
	}}
	svc := NewIndexingService(store, extractor, nil)

	summary, err := svc.ReprocessFailedMaterials(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ReprocessSummary{Success: 2, Failures: 1}, summary)
	assert.Equal(t, []string{a.ObjectKey(), b.ObjectKey(), c.ObjectKey()}, extractor.calls)
	assert.Equal(t, models.StatusIndexed, store.get(a.ID).ProcessingStatus)
	assert.Equal(t, models.StatusFailed, store.get(b.ID).ProcessingStatus)
	assert.Equal(t, models.StatusIndexed, store.get(c.ID).ProcessingStatus)
	assert.Equal(t, []string{models.StatusIndexed}, store.statuses(done.ID))
	for _, m := range []*models.Material{a, b, c} {
		assertLegalHistory(t, store.statuses(m.ID))
	}
}

func TestReprocessFailedMaterials_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	store.seed(&models.Material{FileName: "a.txt", ProcessingStatus: models.StatusFailed})
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := svc.ReprocessFailedMaterials(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ReprocessSummary{}, summary)
}

func TestRegisterMaterial(t *testing.T) {
	store := newMemStore()
	queue := &recordingEnqueuer{}
	svc := NewIndexingService(store, &scriptedExtractor{}, queue, WithClock(fixedClock))
	org := primitive.NewObjectID()

	m, err := svc.RegisterMaterial(context.Background(), RegisterMaterialInput{
		Title:          "  Hashimoto overview ",
		Category:       models.CategoryEndocrinology,
		FileName:       "hashimoto.PDF",
		OrganizationID: org,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hashimoto overview", m.Title)
	assert.Equal(t, ".pdf", m.FileType)
	assert.Equal(t, models.StatusPending, m.ProcessingStatus)
	assert.Equal(t, fixedNow, m.CreatedAt)
	assert.Equal(t, org.Hex()+"/hashimoto.PDF", m.ObjectKey())
	assert.Equal(t, []string{m.ID.Hex()}, queue.processed)
	assert.NotNil(t, store.get(m.ID))
}

func TestRegisterMaterial_Validation(t *testing.T) {
	svc := NewIndexingService(newMemStore(), &scriptedExtractor{}, &recordingEnqueuer{})

	_, err := svc.RegisterMaterial(context.Background(), RegisterMaterialInput{
		Category: "astrology",
		FileName: "../etc/passwd",
	})

	require.ErrorIs(t, err, ErrInvalidMaterial)
	for _, want := range []string{"title", "path separators", "astrology", "organization"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRegisterMaterial_QueueDownKeepsMaterial(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, &recordingEnqueuer{err: errors.New("redis down")})

	m, err := svc.RegisterMaterial(context.Background(), RegisterMaterialInput{
		Title: "Zinc", FileName: "zinc.txt", OrganizationID: primitive.NewObjectID(),
	})

	require.NoError(t, err)
	assert.Equal(t, models.CategoryOther, m.Category)
	assert.Equal(t, models.StatusPending, store.get(m.ID).ProcessingStatus)
}

func TestTriggerReprocess(t *testing.T) {
	store := newMemStore()
	queue := &recordingEnqueuer{}
	svc := NewIndexingService(store, &scriptedExtractor{}, queue)
	org := primitive.NewObjectID()
	text := "kept"

	indexed := store.seed(&models.Material{ProcessingStatus: models.StatusIndexed, OrganizationID: org, TextContent: &text})
	require.NoError(t, svc.TriggerReprocess(context.Background(), indexed.ID.Hex(), org))
	saved := store.get(indexed.ID)
	assert.Equal(t, models.StatusPending, saved.ProcessingStatus)
	assert.Equal(t, "kept", saved.Text())
	assert.Equal(t, []string{indexed.ID.Hex()}, queue.reprocess)

	busy := store.seed(&models.Material{ProcessingStatus: models.StatusProcessing, OrganizationID: org})
	assert.ErrorIs(t, svc.TriggerReprocess(context.Background(), busy.ID.Hex(), org), ErrInvalidTransition)

	private := store.seed(&models.Material{ProcessingStatus: models.StatusFailed, OrganizationID: primitive.NewObjectID()})
	assert.ErrorIs(t, svc.TriggerReprocess(context.Background(), private.ID.Hex(), org), ErrMaterialNotFound)

	public := store.seed(&models.Material{ProcessingStatus: models.StatusFailed, OrganizationID: primitive.NewObjectID(), IsPublic: true})
	assert.ErrorIs(t, svc.TriggerReprocess(context.Background(), public.ID.Hex(), org), ErrNotOwner)
}

func TestGetMaterial_Visibility(t *testing.T) {
	store := newMemStore()
	svc := NewIndexingService(store, &scriptedExtractor{}, nil)
	owner, stranger := primitive.NewObjectID(), primitive.NewObjectID()

	private := store.seed(&models.Material{OrganizationID: owner})
	public := store.seed(&models.Material{OrganizationID: owner, IsPublic: true})

	_, err := svc.GetMaterial(context.Background(), private.ID.Hex(), owner)
	assert.NoError(t, err)
	_, err = svc.GetMaterial(context.Background(), private.ID.Hex(), stranger)
	assert.ErrorIs(t, err, ErrMaterialNotFound)
	_, err = svc.GetMaterial(context.Background(), public.ID.Hex(), stranger)
	assert.NoError(t, err)

	list, total, err := svc.ListMaterials(context.Background(), stranger, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, public.ID, list[0].ID)
}

func TestDeleteMaterial(t *testing.T) {
	svc, store, objects := newStoredPipeline(t)
	cache := newMemChunkCache()
	WithChunkCache(cache)(svc)
	m := uploadMaterial(t, objects, store, "notes.txt", "Magnesium and sleep")

	require.True(t, svc.ProcessMaterial(context.Background(), m.ID.Hex()).Success)
	require.NotEmpty(t, cache.entries)

	assert.ErrorIs(t, svc.DeleteMaterial(context.Background(), m.ID.Hex(), primitive.NewObjectID()), ErrMaterialNotFound)
	require.NoError(t, svc.DeleteMaterial(context.Background(), m.ID.Hex(), m.OrganizationID))

	assert.Nil(t, store.get(m.ID))
	assert.Empty(t, cache.entries)
	assert.Equal(t, []string{m.ID.Hex()}, cache.invalidated)
	keys, err := objects.List(context.Background(), m.OrganizationID.Hex()+"/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
