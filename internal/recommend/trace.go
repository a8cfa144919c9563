package recommend

import "github.com/patrickwarner/recserve/internal/models"

// Trace stages, in pipeline order.
const (
	StageAnchor           = "anchor"
	StageFBTStep          = "fbt_step"
	StageAlsoLikeSeed     = "also_like_seed"
	StageGiftCard         = "gift_card"
	StageFBTBackfill      = "fbt_backfill"
	StageAlsoLikeBackfill = "also_like_backfill"
	StageCap              = "cap"
)

// TraceStep records the products a pipeline stage produced.
type TraceStep struct {
	Stage      string            `json:"stage"`
	ProductIDs []string          `json:"product_ids"`
	Details    map[string]string `json:"details,omitempty"`
}

// Trace captures the ordered stages of one recommendation. A nil *Trace
// records nothing.
type Trace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStepWithDetails appends a trace entry with extra details.
func (t *Trace) AddStepWithDetails(stage string, products []models.Product, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, ProductIDs: []string{}, Details: details}
	for _, p := range products {
		step.ProductIDs = append(step.ProductIDs, p.ID)
	}
	t.Steps = append(t.Steps, step)
}

// Stage returns the steps recorded for a stage.
func (t *Trace) Stage(stage string) []TraceStep {
	if t == nil {
		return nil
	}
	var out []TraceStep
	for _, s := range t.Steps {
		if s.Stage == stage {
			out = append(out, s)
		}
	}
	return out
}
