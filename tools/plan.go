package tools

import "context"

// PlanToolName is the tool the model calls to announce or revise its plan.
// The conversation loop intercepts calls to it and turns them into plan
// events; Execute only runs if something invokes the tool directly.
const PlanToolName = "update_plan"

// PlanTool advertises the plan surface to the model.
type PlanTool struct{}

func (PlanTool) Name() string { return PlanToolName }

func (PlanTool) Description() string {
	return "Present or revise your step-by-step plan. Pass 'entries': a list of objects with 'content' and 'status' (pending, in_progress or completed)."
}

func (PlanTool) Kind() string { return "other" }

func (PlanTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "Plan updated.", nil
}
