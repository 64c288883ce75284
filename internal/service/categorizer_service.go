package service

import (
	"context"
	"strings"
)

// Categorizer maps a recipe title plus file hints to a category. The static
// lookup tables are maintained outside this core; the keyword matcher below
// is the default collaborator.
type Categorizer interface {
	Categorize(ctx context.Context, title, file string) (string, error)
}

type categoryRule struct {
	category string
	keywords []string
}

// Checked in order; the first match wins.
var categoryRules = []categoryRule{
	{"dessert", []string{"cake", "cookie", "brownie", "pie", "tart", "pudding", "ice cream", "chocolate"}},
	{"breakfast", []string{"pancake", "waffle", "omelette", "oatmeal", "granola", "toast", "scramble"}},
	{"soup", []string{"soup", "broth", "chowder", "bisque", "stew"}},
	{"salad", []string{"salad", "slaw", "vinaigrette"}},
	{"bread", []string{"bread", "baguette", "focaccia", "sourdough", "roll", "bun"}},
	{"pasta", []string{"pasta", "spaghetti", "lasagna", "penne", "macaroni", "noodle"}},
	{"drink", []string{"smoothie", "juice", "cocktail", "lemonade", "latte"}},
}

type KeywordCategorizer struct{}

func NewKeywordCategorizer() *KeywordCategorizer {
	return &KeywordCategorizer{}
}

func (c *KeywordCategorizer) Categorize(_ context.Context, title, file string) (string, error) {
	haystack := strings.ToLower(title + " " + file)

	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.category, nil
			}
		}
	}
	return "uncategorized", nil
}
