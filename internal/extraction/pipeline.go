package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tablecall/internal/voice"
)

// Pipeline runs the extraction tiers over a completed call's payload.
//
// Rules:
//   - Tiers run in a fixed order: patterns, structured fields, model
//     fallback. The first tier that yields a complete result for the flow
//     wins; later tiers are not consulted.
//   - Tiers are alternatives, not collaborators. Partial output from a
//     failed tier is discarded rather than merged into the next one.
//   - When every tier fails the caller gets ErrNoResult and the record
//     stays where it is for manual follow-up.
type Pipeline struct {
	model ModelClient
	clock func() time.Time
}

func NewPipeline(model ModelClient) *Pipeline {
	return &Pipeline{model: model, clock: time.Now}
}

// Extract derives reservation facts from a call payload. completedAt is
// the call's completion time and anchors every relative time expression;
// a zero value falls back to the pipeline clock.
func (p *Pipeline) Extract(ctx context.Context, flow voice.Flow, payload json.RawMessage, completedAt time.Time) (Result, error) {
	if !voice.ValidFlow(flow) {
		return Result{}, fmt.Errorf("%w: unknown flow %q", ErrNoResult, flow)
	}
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("%w: empty call payload", ErrNoResult)
	}
	ref := completedAt
	if ref.IsZero() {
		ref = p.clock()
	}
	ref = ref.UTC()

	var reasons []string

	if r, ok := scanPatterns(flow, payload, ref); ok && r.complete(flow) {
		r.Valid = true
		return r, nil
	}
	reasons = append(reasons, "patterns matched nothing usable")

	if r, ok := scanStructured(flow, payload, ref); ok && r.complete(flow) {
		r.Valid = true
		return r, nil
	}
	reasons = append(reasons, "no usable structured fields")

	r, err := scanModel(ctx, p.model, flow, payload, ref)
	if err != nil {
		reasons = append(reasons, err.Error())
	} else if r.complete(flow) {
		r.Valid = true
		return r, nil
	} else {
		reasons = append(reasons, "model answer incomplete for flow")
	}

	return Result{}, fmt.Errorf("%w: %s", ErrNoResult, strings.Join(reasons, "; "))
}
