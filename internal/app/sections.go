package app

import "ignite/api/internal/workbook"

// Sections returns the canonical workflow layout: four steps, two sections
// each. Section titles and question keys are frozen identifiers shared with
// the legacy cache shapes; changing them orphans previously saved answers.
func Sections() []workbook.SectionDef {
	return []workbook.SectionDef{
		{Step: 1, Title: "Dream Customer", Questions: []string{
			"dream-customer-who",
			"dream-customer-pain",
			"dream-customer-desire",
		}},
		{Step: 1, Title: "Transformation", Questions: []string{
			"transformation-before",
			"transformation-after",
		}},
		{Step: 2, Title: "Offer Outline", Questions: []string{
			"offer-outline-core",
			"offer-outline-bonuses",
			"offer-outline-guarantee",
		}},
		{Step: 2, Title: "Pricing", Questions: []string{
			"pricing-model",
			"pricing-point",
		}},
		{Step: 3, Title: "Messaging", Questions: []string{
			"messaging-hook",
			"messaging-story",
			"messaging-proof",
		}},
		{Step: 3, Title: "Objections", Questions: []string{
			"objections-top",
			"objections-answers",
		}},
		{Step: 4, Title: "Sales Strategy", Questions: []string{
			"sales-strategy-goal",
			"sales-strategy-channels",
		}},
		{Step: 4, Title: "Launch Plan", Questions: []string{
			"launch-plan-timeline",
			"launch-plan-milestones",
		}},
	}
}
