package compose

import "stepform/api/internal/store"

type StepKind string

const (
	StepGroup    StepKind = "group"
	StepQuestion StepKind = "question"
	StepSummary  StepKind = "summary"
)

// Step is one navigable screen: a whole group card, a single ungrouped
// question, or the final summary.
type Step struct {
	Index     int              `json:"index"`
	Kind      StepKind         `json:"kind"`
	Group     *store.Group     `json:"group,omitempty"`
	Questions []store.Question `json:"questions,omitempty"`
	Question  *store.Question  `json:"question,omitempty"`
	Visible   bool             `json:"visible"`
	Previous  *int             `json:"previous,omitempty"`
	Next      *int             `json:"next,omitempty"`
	Submit    bool             `json:"submit"`
}

type Plan struct {
	QuestionnaireID int64  `json:"questionnaireId"`
	Steps           []Step `json:"steps"`
	TotalSteps      int    `json:"totalSteps"`
}

// BuildPlan lays out the presentation sequence: every group card first (in
// group order), then every ungrouped question on its own screen, then one
// summary step. Grouped sections deliberately come before any ungrouped
// question regardless of their relative storage order; do not interleave
// without a product decision.
func BuildPlan(questionnaireID int64, composition Composition) Plan {
	steps := make([]Step, 0, len(composition.Groups)+len(composition.Ungrouped)+1)

	for i := range composition.Groups {
		bucket := composition.Groups[i]
		steps = append(steps, Step{
			Kind:      StepGroup,
			Group:     &bucket.Group,
			Questions: bucket.Questions,
		})
	}
	for i := range composition.Ungrouped {
		question := composition.Ungrouped[i]
		steps = append(steps, Step{
			Kind:     StepQuestion,
			Question: &question,
		})
	}
	steps = append(steps, Step{Kind: StepSummary, Submit: true})

	for i := range steps {
		steps[i].Index = i
		steps[i].Visible = i == 0
		if i > 0 {
			previous := i - 1
			steps[i].Previous = &previous
		}
		if i < len(steps)-1 {
			next := i + 1
			steps[i].Next = &next
		}
	}

	return Plan{
		QuestionnaireID: questionnaireID,
		Steps:           steps,
		TotalSteps:      len(steps),
	}
}
