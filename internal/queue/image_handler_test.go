package queue

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/service"
)

func writeTestImage(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "cake.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
	return path
}

func testImageConfig() config.ImageConfig {
	return config.ImageConfig{
		MaxBytes:      25 * 1024 * 1024,
		ThumbnailSize: 8,
		JPEGQuality:   85,
	}
}

func newImageHandler(f *orchestratorFixture, repo *stubNoteRepo, enqueuer *stubEnqueuer, dir string, cfg config.ImageConfig) *ImageHandler {
	return NewImageHandler(f.orch, repo, &service.LocalUploader{BaseDir: dir}, enqueuer, cfg)
}

func imageTask(t *testing.T, payload ImagePayload) *asynq.Task {
	t.Helper()
	task, err := NewImageProcessTask(payload)
	require.NoError(t, err)
	return task
}

func TestImageHandlerRunsAllSteps(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	enqueuer := &stubEnqueuer{}
	outDir := t.TempDir()
	h := newImageHandler(f, repo, enqueuer, outDir, testImageConfig())

	noteID := uuid.New()
	payload := ImagePayload{ImportID: uuid.New(), NoteID: noteID, File: writeTestImage(t)}

	require.NoError(t, h.ProcessTask(context.Background(), imageTask(t, payload)))

	stored := repo.imagePaths[noteID]
	require.NotEmpty(t, stored, "the compressed image path must be persisted")
	_, err := os.Stat(stored)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "notes", noteID.String(), "thumb.jpg"))
	assert.NoError(t, err, "the thumbnail is stored under its own key")

	require.Len(t, enqueuer.categorizeJobs, 1)
	assert.Equal(t, noteID, enqueuer.categorizeJobs[0].NoteID)
	assert.Equal(t, payload.File, enqueuer.categorizeJobs[0].File)

	last := f.broadcaster.last(t)
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "5 steps")
	assert.NotContains(t, last.Message, "failed")
}

func TestImageHandlerToleratesFailingSteps(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	enqueuer := &stubEnqueuer{}
	h := newImageHandler(f, repo, enqueuer, t.TempDir(), testImageConfig())

	noteID := uuid.New()
	payload := ImagePayload{ImportID: uuid.New(), NoteID: noteID, File: "/nonexistent/cake.png"}

	err := h.ProcessTask(context.Background(), imageTask(t, payload))
	require.NoError(t, err, "a fully failed image stage still completes the job")

	assert.Empty(t, repo.imagePaths, "nothing stored, nothing persisted")
	assert.Len(t, enqueuer.categorizeJobs, 1, "categorization runs regardless of image failures")

	last := f.broadcaster.last(t)
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "failed steps")
	assert.Contains(t, last.Message, "extract")
}

func TestImageHandlerOversizedImageStillUploadsRaw(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	enqueuer := &stubEnqueuer{}

	cfg := testImageConfig()
	cfg.MaxBytes = 10
	h := newImageHandler(f, repo, enqueuer, t.TempDir(), cfg)

	noteID := uuid.New()
	payload := ImagePayload{ImportID: uuid.New(), NoteID: noteID, File: writeTestImage(t)}

	require.NoError(t, h.ProcessTask(context.Background(), imageTask(t, payload)))

	// Validation, compression, and thumbnailing fail; the raw bytes still
	// make it to storage.
	assert.NotEmpty(t, repo.imagePaths[noteID])

	last := f.broadcaster.last(t)
	assert.Contains(t, last.Message, "3 failed steps")
	assert.Contains(t, last.Message, "validate")
	assert.Contains(t, last.Message, "thumbnail")
}

func TestImageHandlerValidation(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	enqueuer := &stubEnqueuer{}
	h := newImageHandler(f, repo, enqueuer, t.TempDir(), testImageConfig())

	err := h.ProcessTask(context.Background(), imageTask(t, ImagePayload{ImportID: uuid.New()}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, enqueuer.categorizeJobs)
}
