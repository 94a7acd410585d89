package legacy

import "strings"

// Shape describes one historical cache key family. Each workflow step wrote
// its answers under per-section JSON blobs named `<slug>-responses-<userID>`;
// the slug doubles as the question-key namespace in the durable store.
type Shape struct {
	Step    int
	Section string
	Slug    string
}

// The registry is frozen: these are the key shapes old clients actually
// produced, so entries are never renamed or removed.
var shapes = []Shape{
	{Step: 1, Section: "Dream Customer", Slug: "dream-customer"},
	{Step: 1, Section: "Transformation", Slug: "transformation"},
	{Step: 2, Section: "Offer Outline", Slug: "offer-outline"},
	{Step: 2, Section: "Pricing", Slug: "pricing"},
	{Step: 3, Section: "Messaging", Slug: "messaging"},
	{Step: 3, Section: "Objections", Slug: "objections"},
	{Step: 4, Section: "Sales Strategy", Slug: "sales-strategy"},
	{Step: 4, Section: "Launch Plan", Slug: "launch-plan"},
}

// ShapesForStep lists the historical key shapes for one step.
func ShapesForStep(step int) []Shape {
	var matched []Shape
	for _, shape := range shapes {
		if shape.Step == step {
			matched = append(matched, shape)
		}
	}
	return matched
}

// ShapeFor finds the shape for a (step, section title) pair.
func ShapeFor(step int, section string) (Shape, bool) {
	for _, shape := range shapes {
		if shape.Step == step && shape.Section == section {
			return shape, true
		}
	}
	return Shape{}, false
}

// CacheKey renders the legacy cache key for one user.
func (s Shape) CacheKey(userID string) string {
	return s.Slug + "-responses-" + userID
}

// QuestionKey renders the durable question key for a legacy blob field, e.g.
// field "goal" of the sales-strategy blob becomes "sales-strategy-goal".
func (s Shape) QuestionKey(field string) string {
	return s.Slug + "-" + field
}

// FieldFor is the inverse of QuestionKey.
func (s Shape) FieldFor(questionKey string) (string, bool) {
	prefix := s.Slug + "-"
	if !strings.HasPrefix(questionKey, prefix) {
		return "", false
	}
	field := strings.TrimPrefix(questionKey, prefix)
	if field == "" {
		return "", false
	}
	return field, true
}
