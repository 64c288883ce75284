package service

import (
	"context"
	"strings"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

// Segmenter turns a raw recipe document into ingredient/instruction line
// candidates. The segmentation heuristics proper live outside the
// orchestration core; this default implementation covers plain-text documents
// with conventional section headings.
type Segmenter interface {
	Segment(ctx context.Context, content string) (*domain.SegmentedContent, error)
}

type LineSegmenter struct{}

func NewLineSegmenter() *LineSegmenter {
	return &LineSegmenter{}
}

func (s *LineSegmenter) Segment(_ context.Context, content string) (*domain.SegmentedContent, error) {
	result := &domain.SegmentedContent{}

	section := ""
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		lower := strings.ToLower(strings.TrimRight(line, ":"))
		switch lower {
		case "ingredients":
			section = "ingredients"
			continue
		case "instructions", "directions", "method", "steps":
			section = "instructions"
			continue
		}

		if strings.HasPrefix(lower, "image:") {
			result.ImageURL = strings.TrimSpace(line[len("image:"):])
			continue
		}

		switch section {
		case "ingredients":
			result.IngredientLines = append(result.IngredientLines, line)
		case "instructions":
			result.InstructionLines = append(result.InstructionLines, line)
		default:
			if result.Title == "" {
				result.Title = line
			}
		}
	}

	return result, nil
}
