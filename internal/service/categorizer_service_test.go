package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	c := NewKeywordCategorizer()
	ctx := context.Background()

	tests := []struct {
		title string
		file  string
		want  string
	}{
		{"Chocolate Cake", "", "dessert"},
		{"Creamy Tomato Soup", "", "soup"},
		{"Caesar Salad", "", "salad"},
		{"Rustic Sourdough", "", "bread"},
		{"Spaghetti Carbonara", "", "pasta"},
		{"", "berry-smoothie.jpg", "drink"},
		{"Grilled Chicken", "", "uncategorized"},
		{"", "", "uncategorized"},
	}

	for _, tt := range tests {
		got, err := c.Categorize(ctx, tt.title, tt.file)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "title=%q file=%q", tt.title, tt.file)
	}
}

func TestCategorizeFirstMatchWins(t *testing.T) {
	c := NewKeywordCategorizer()

	// Matches both dessert and soup keywords; rule order decides.
	got, err := c.Categorize(context.Background(), "Chocolate Stew Surprise", "")
	require.NoError(t, err)
	assert.Equal(t, "dessert", got)
}
