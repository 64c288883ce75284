package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/service"
)

func ingredientTask(t *testing.T, payload IngredientPayload) *asynq.Task {
	t.Helper()
	task, err := NewIngredientParseTask(payload)
	require.NoError(t, err)
	return task
}

func ingredientLines(references ...string) []LinePayload {
	out := make([]LinePayload, 0, len(references))
	for i, ref := range references {
		out = append(out, LinePayload{ID: uuid.New(), LineIndex: i, Reference: ref})
	}
	return out
}

func TestIngredientHandlerProcessesAllLines(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewIngredientHandler(f.orch, repo, service.NewRuleParser(), 3)

	lines := make([]string, 0, 11)
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("%d cups flour", i+1))
	}
	// No ingredient name: this line fails to parse but must not fail the job.
	lines = append(lines, "2 cups")

	payload := IngredientPayload{
		ImportID: uuid.New(),
		Note:     NoteRef{ID: uuid.New(), ParsedIngredientLines: ingredientLines(lines...)},
	}

	err := h.ProcessTask(context.Background(), ingredientTask(t, payload))
	require.NoError(t, err)
	assert.Equal(t, 10, repo.ingredientCount())

	last := f.broadcaster.last(t)
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "1 errors")
	assert.Equal(t, 11, last.CurrentCount)

	events := f.broadcaster.all()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, domain.StatusProcessing, events[0].Status)
	assert.Equal(t, 11, events[0].TotalCount)
}

func TestIngredientHandlerEmitsBatchProgress(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewIngredientHandler(f.orch, repo, service.NewRuleParser(), 2)

	payload := IngredientPayload{
		ImportID: uuid.New(),
		Note: NoteRef{
			ID:                    uuid.New(),
			ParsedIngredientLines: ingredientLines("1 cup milk", "2 eggs", "1 tsp salt", "butter", "3 cups flour"),
		},
	}

	require.NoError(t, h.ProcessTask(context.Background(), ingredientTask(t, payload)))

	var counts []int
	for _, e := range f.broadcaster.all() {
		if e.Status == domain.StatusProcessing && e.CurrentCount > 0 {
			counts = append(counts, e.CurrentCount)
		}
	}
	assert.Equal(t, []int{2, 4, 5}, counts)
}

func TestIngredientHandlerPersistFailureIsCounted(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	repo.saveIngredientErr = func(line domain.ParsedLine) error {
		if line.LineIndex == 0 {
			return errors.New("unique constraint violated")
		}
		return nil
	}
	h := NewIngredientHandler(f.orch, repo, service.NewRuleParser(), 10)

	payload := IngredientPayload{
		ImportID: uuid.New(),
		Note: NoteRef{
			ID:                    uuid.New(),
			ParsedIngredientLines: ingredientLines("1 cup milk", "2 eggs"),
		},
	}

	require.NoError(t, h.ProcessTask(context.Background(), ingredientTask(t, payload)))
	assert.Equal(t, 1, repo.ingredientCount())
	assert.Contains(t, f.broadcaster.last(t).Message, "1 errors")
}

func TestIngredientHandlerValidationNeverReachesStageWork(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewIngredientHandler(f.orch, repo, service.NewRuleParser(), 10)

	payload := IngredientPayload{ImportID: uuid.New()}
	err := h.ProcessTask(context.Background(), ingredientTask(t, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, repo.ingredientCount())
}

func TestIngredientHandlerRejectsWorkWhenUnhealthy(t *testing.T) {
	f := newOrchestratorFixture(downDB{})
	repo := newStubNoteRepo()
	h := NewIngredientHandler(f.orch, repo, service.NewRuleParser(), 10)

	payload := IngredientPayload{
		ImportID: uuid.New(),
		Note:     NoteRef{ID: uuid.New(), ParsedIngredientLines: ingredientLines("1 cup milk")},
	}

	err := h.ProcessTask(context.Background(), ingredientTask(t, payload))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "an unhealthy system should redeliver, not archive")
	assert.Zero(t, repo.ingredientCount())
}

func TestInstructionHandlerNumbersSteps(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewInstructionHandler(f.orch, repo, service.NewRuleParser(), 10)

	payload := InstructionPayload{
		ImportID: uuid.New(),
		Note: NoteRef{
			ID:                     uuid.New(),
			ParsedInstructionLines: ingredientLines("1. Mix", "2. Bake", "3. Cool"),
		},
	}
	task, err := NewInstructionParseTask(payload)
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.instructions, 3)
	steps := map[int]string{}
	for _, ins := range repo.instructions {
		steps[ins.Step] = ins.Text
	}
	assert.Equal(t, map[int]string{1: "Mix", 2: "Bake", 3: "Cool"}, steps)
}

func TestInstructionHandlerZeroLines(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewInstructionHandler(f.orch, repo, service.NewRuleParser(), 10)

	payload := InstructionPayload{
		ImportID: uuid.New(),
		Note:     NoteRef{ID: uuid.New(), ParsedInstructionLines: []LinePayload{}},
	}
	task, err := NewInstructionParseTask(payload)
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))
	last := f.broadcaster.last(t)
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "0 lines processed")
}
