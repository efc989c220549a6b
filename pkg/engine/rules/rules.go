// Package rules is a local heuristic engine. It composes recommendation
// text from the wardrobe snapshot, style tags, and occasion keywords in
// the utterance. It exists so the service runs offline and so tests have
// a deterministic engine; it is not an outfit-matching algorithm.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/stylecore/internal/types"
	"github.com/user/stylecore/pkg/engine"
)

// Engine implements engine.Engine with keyword heuristics.
type Engine struct{}

// New creates a rules engine.
func New() *Engine {
	return &Engine{}
}

// occasions maps utterance keywords to a suggested register.
var occasions = []struct {
	keywords []string
	register string
}{
	{[]string{"wedding", "gala", "ceremony"}, "formal"},
	{[]string{"work", "office", "interview", "meeting"}, "professional"},
	{[]string{"gym", "run", "workout", "hike"}, "athletic"},
	{[]string{"date", "dinner", "party"}, "evening"},
}

// preferredOrder is the order categories are mentioned in a suggestion.
var preferredOrder = []types.Category{
	types.CategoryDress,
	types.CategoryTop,
	types.CategoryBottom,
	types.CategoryOuterwear,
	types.CategoryShoes,
	types.CategoryAccessory,
}

// Recommend builds recommendation text from the request snapshot.
func (e *Engine) Recommend(ctx context.Context, req *engine.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if len(req.Catalog) == 0 {
		return "Your wardrobe is empty so far. Add a few items and I can start putting outfits together for you.", nil
	}

	register := detectRegister(req.Utterance, req.Preferences.StyleTags)

	byCategory := make(map[types.Category][]types.ClothingItem)
	var unclassified int
	for _, item := range req.Catalog {
		if item.Category == "" {
			unclassified++
			continue
		}
		byCategory[item.Category] = append(byCategory[item.Category], item)
	}

	var picks []string
	for _, cat := range preferredOrder {
		if items := byCategory[cat]; len(items) > 0 {
			picks = append(picks, fmt.Sprintf("a %s from your %d %s option(s)", register, len(items), cat))
		}
		if len(picks) == 3 {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on your wardrobe of %d item(s), for a %s look I recommend ", len(req.Catalog), register)
	if len(picks) > 0 {
		b.WriteString(strings.Join(picks, ", "))
		b.WriteString(".")
	} else {
		b.WriteString("starting with your most recent additions.")
	}
	if unclassified > 0 {
		fmt.Fprintf(&b, " %d item(s) are still unclassified, so I may be missing options.", unclassified)
	}
	return b.String(), nil
}

// detectRegister picks a register from the utterance, falling back to the
// owner's first style tag, then "casual".
func detectRegister(utterance string, styleTags []string) string {
	lower := strings.ToLower(utterance)
	for _, occ := range occasions {
		for _, kw := range occ.keywords {
			if strings.Contains(lower, kw) {
				return occ.register
			}
		}
	}
	if len(styleTags) > 0 {
		return styleTags[0]
	}
	return "casual"
}
