package queue

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/service"
)

// ImageHandler runs the image stage as five independent steps: extract,
// validate, compress, upload, thumbnail. A failing step is logged and
// skipped; the remaining steps still run, so the final status reflects
// partial success rather than total failure.
type ImageHandler struct {
	*Orchestrator
	notes    repository.NoteRepository
	uploader service.Uploader
	enqueuer Enqueuer
	cfg      config.ImageConfig
}

func NewImageHandler(orch *Orchestrator, notes repository.NoteRepository, uploader service.Uploader, enqueuer Enqueuer, cfg config.ImageConfig) *ImageHandler {
	return &ImageHandler{
		Orchestrator: orch,
		notes:        notes,
		uploader:     uploader,
		enqueuer:     enqueuer,
		cfg:          cfg,
	}
}

type imageState struct {
	raw        []byte
	img        image.Image
	compressed []byte
	storedPath string
	thumbPath  string
}

type imageStep struct {
	name string
	run  func(ctx context.Context, state *imageState) error
}

func (h *ImageHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID, retryCount := envelope(ctx)
	start := time.Now()

	payload, err := ParseImagePayload(task)
	if err != nil {
		return h.validationFail(ctx, QueueImages, jobID, domain.StatusEvent{}, err)
	}
	noteID := payload.NoteID
	event := domain.StatusEvent{
		ImportID: payload.ImportID,
		NoteID:   &noteID,
		Context:  "image",
	}

	if err := payload.Validate(); err != nil {
		event.NoteID = nil
		return h.validationFail(ctx, QueueImages, jobID, event, err)
	}
	if err := h.ensureHealthy(ctx); err != nil {
		return h.fail(ctx, QueueImages, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusProcessing
	event.Message = "processing image"
	h.emit(ctx, event)

	state := &imageState{}
	steps := h.steps(payload, state)
	var failedSteps []string

	for i, step := range steps {
		if err := step.run(ctx, state); err != nil {
			failedSteps = append(failedSteps, step.name)
			h.logger.Warn(ctx, "image step failed", map[string]interface{}{
				"step":    step.name,
				"note_id": noteID.String(),
				"error":   err.Error(),
			})
		}

		progress := event
		progress.Message = fmt.Sprintf("image step %s finished", step.name)
		progress.CurrentCount = i + 1
		progress.TotalCount = len(steps)
		h.emit(ctx, progress)
	}

	if state.storedPath != "" {
		err = h.errors.WithErrorHandling(ctx, func() error {
			return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
				return h.notes.SetImagePath(ctx, noteID, state.storedPath)
			})
		}, map[string]interface{}{"note_id": noteID.String()})
		if err != nil {
			return h.fail(ctx, QueueImages, jobID, retryCount, start, event, err)
		}
	}

	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.enqueuer.EnqueueCategorize(ctx, CategorizationPayload{
			ImportID: payload.ImportID,
			NoteID:   noteID,
			File:     payload.File,
		})
	}, map[string]interface{}{"note_id": noteID.String()})
	if err != nil {
		return h.fail(ctx, QueueImages, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusCompleted
	if len(failedSteps) == 0 {
		event.Message = fmt.Sprintf("image processing completed: %d steps", len(steps))
	} else {
		event.Message = fmt.Sprintf("image processing completed with %d failed steps (%s)",
			len(failedSteps), strings.Join(failedSteps, ", "))
	}
	event.CurrentCount = len(steps)
	event.TotalCount = len(steps)
	h.emit(ctx, event)

	h.finish(ctx, QueueImages, jobID, start)
	return nil
}

func (h *ImageHandler) steps(payload *ImagePayload, state *imageState) []imageStep {
	return []imageStep{
		{name: "extract", run: func(_ context.Context, s *imageState) error {
			data, err := os.ReadFile(payload.File)
			if err != nil {
				return fmt.Errorf("failed to read image file: %w", err)
			}
			s.raw = data
			return nil
		}},
		{name: "validate", run: func(_ context.Context, s *imageState) error {
			if len(s.raw) == 0 {
				return fmt.Errorf("no image bytes to validate")
			}
			if int64(len(s.raw)) > h.cfg.MaxBytes {
				return fmt.Errorf("image exceeds %d bytes", h.cfg.MaxBytes)
			}
			img, _, err := image.Decode(bytes.NewReader(s.raw))
			if err != nil {
				return fmt.Errorf("failed to decode image: %w", err)
			}
			if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
				return fmt.Errorf("image has empty bounds")
			}
			s.img = img
			return nil
		}},
		{name: "compress", run: func(_ context.Context, s *imageState) error {
			if s.img == nil {
				return fmt.Errorf("no decoded image to compress")
			}
			buf := &bytes.Buffer{}
			if err := imaging.Encode(buf, s.img, imaging.JPEG, imaging.JPEGQuality(h.cfg.JPEGQuality)); err != nil {
				return fmt.Errorf("failed to encode image: %w", err)
			}
			s.compressed = buf.Bytes()
			return nil
		}},
		{name: "upload", run: func(ctx context.Context, s *imageState) error {
			body := s.compressed
			if body == nil {
				body = s.raw
			}
			if body == nil {
				return fmt.Errorf("no image bytes to upload")
			}
			key := fmt.Sprintf("notes/%s/image.jpg", payload.NoteID)
			path, err := h.uploader.Upload(ctx, key, body, "image/jpeg")
			if err != nil {
				return err
			}
			s.storedPath = path
			return nil
		}},
		{name: "thumbnail", run: func(ctx context.Context, s *imageState) error {
			if s.img == nil {
				return fmt.Errorf("no decoded image for thumbnail")
			}
			size := h.cfg.ThumbnailSize
			if size <= 0 {
				size = 320
			}
			thumb := imaging.Thumbnail(s.img, size, size, imaging.Lanczos)
			buf := &bytes.Buffer{}
			if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(h.cfg.JPEGQuality)); err != nil {
				return fmt.Errorf("failed to encode thumbnail: %w", err)
			}
			key := fmt.Sprintf("notes/%s/thumb.jpg", payload.NoteID)
			path, err := h.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
			if err != nil {
				return err
			}
			s.thumbPath = path
			return nil
		}},
	}
}
