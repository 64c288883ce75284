package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

// IngredientParser turns one segmented ingredient line into its structured
// form. A parse failure is terminal for the line, not the job.
type IngredientParser interface {
	ParseIngredient(ctx context.Context, reference string) (domain.ParsedIngredient, error)
}

// InstructionParser normalizes one instruction line into a numbered step.
type InstructionParser interface {
	ParseInstruction(ctx context.Context, reference string, step int) (domain.ParsedInstruction, error)
}

var knownUnits = map[string]bool{
	"cup": true, "cups": true,
	"tablespoon": true, "tablespoons": true, "tbsp": true,
	"teaspoon": true, "teaspoons": true, "tsp": true,
	"gram": true, "grams": true, "g": true,
	"kilogram": true, "kilograms": true, "kg": true,
	"ounce": true, "ounces": true, "oz": true,
	"pound": true, "pounds": true, "lb": true, "lbs": true,
	"milliliter": true, "milliliters": true, "ml": true,
	"liter": true, "liters": true, "l": true,
	"pinch": true, "dash": true, "clove": true, "cloves": true,
	"slice": true, "slices": true, "piece": true, "pieces": true,
	"can": true, "cans": true, "stick": true, "sticks": true,
}

type RuleParser struct{}

func NewRuleParser() *RuleParser {
	return &RuleParser{}
}

// ParseIngredient splits "1 1/2 cups flour, sifted" into quantity, unit,
// name, and trailing comment.
func (p *RuleParser) ParseIngredient(_ context.Context, reference string) (domain.ParsedIngredient, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.ParsedIngredient{}, fmt.Errorf("empty ingredient line")
	}

	rest := reference
	var comment string
	if idx := strings.Index(rest, ","); idx >= 0 {
		comment = strings.TrimSpace(rest[idx+1:])
		rest = strings.TrimSpace(rest[:idx])
	}

	tokens := strings.Fields(rest)
	var quantityTokens []string
	i := 0
	for ; i < len(tokens); i++ {
		if !isQuantityToken(tokens[i]) {
			break
		}
		quantityTokens = append(quantityTokens, tokens[i])
	}

	var unit string
	if i < len(tokens) && knownUnits[strings.ToLower(tokens[i])] {
		unit = strings.ToLower(tokens[i])
		i++
	}

	name := strings.TrimSpace(strings.Join(tokens[i:], " "))
	if name == "" {
		return domain.ParsedIngredient{}, fmt.Errorf("ingredient line %q has no ingredient name", reference)
	}

	return domain.ParsedIngredient{
		Quantity: strings.Join(quantityTokens, " "),
		Unit:     unit,
		Name:     name,
		Comment:  comment,
	}, nil
}

// ParseInstruction strips leading list markers ("1.", "2)", "-") and rejects
// lines with no instructional content.
func (p *RuleParser) ParseInstruction(_ context.Context, reference string, step int) (domain.ParsedInstruction, error) {
	text := strings.TrimSpace(reference)

	for len(text) > 0 {
		r := rune(text[0])
		if unicode.IsDigit(r) || r == '.' || r == ')' || r == '-' || r == '*' {
			text = strings.TrimSpace(text[1:])
			continue
		}
		break
	}

	if text == "" {
		return domain.ParsedInstruction{}, fmt.Errorf("instruction line %q has no content", reference)
	}

	return domain.ParsedInstruction{
		Step: step,
		Text: text,
	}, nil
}

func isQuantityToken(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) && r != '/' && r != '.' && r != '-' && r != '½' && r != '¼' && r != '¾' && r != '⅓' && r != '⅔' {
			return false
		}
	}
	return len(token) > 0
}
