package decision

import "log/slog"

// Verdict is the evaluator's judgement on a parsed decision.
type Verdict string

const (
	VerdictAccepted    Verdict = "accepted"
	VerdictClamped     Verdict = "clamped"      // coerced to reflect by the confidence floor
	VerdictRejected    Verdict = "rejected"     // delegate below the delegation threshold
	VerdictParseFailed Verdict = "parse_failed" // fell back to observe
)

// Evaluation pairs the final decision with how it was reached.
type Evaluation struct {
	Decision Decision
	Verdict  Verdict
	Fallback bool // the keyword extractor produced the parsed decision
}

// Evaluator validates decisions against confidence thresholds.
type Evaluator struct {
	delegationThreshold float64
	reflectionThreshold float64
}

// NewEvaluator creates an Evaluator. Delegate actions require confidence at
// or above delegationThreshold; anything below reflectionThreshold is forced
// to reflect regardless of the declared action.
func NewEvaluator(delegationThreshold, reflectionThreshold float64) *Evaluator {
	return &Evaluator{
		delegationThreshold: delegationThreshold,
		reflectionThreshold: reflectionThreshold,
	}
}

// EvaluateRaw parses raw model output and evaluates the result. Parse
// failure resolves to the fail-safe observe decision, never an error.
func (e *Evaluator) EvaluateRaw(raw string) Evaluation {
	d, fallback, err := Parse(raw)
	if err != nil {
		slog.Warn("Decision parse failed, defaulting to observe", "error", err)
		return Evaluation{
			Decision: Observe("unparseable reasoning output"),
			Verdict:  VerdictParseFailed,
		}
	}
	if fallback {
		slog.Info("Decision keyword fallback used", "action", d.Action)
	}
	ev := e.Evaluate(d)
	ev.Fallback = fallback
	return ev
}

// Evaluate applies the threshold rules to a parsed decision.
func (e *Evaluator) Evaluate(d Decision) Evaluation {
	// Safety clamp: low confidence always means reflect, whatever the model
	// declared.
	if d.Confidence < e.reflectionThreshold {
		clamped := d
		clamped.Action = ActionReflect
		return Evaluation{Decision: clamped, Verdict: VerdictClamped}
	}

	if d.Action == ActionDelegate && d.Confidence < e.delegationThreshold {
		rejected := d
		rejected.Action = ActionObserve
		slog.Info("Delegate decision rejected by threshold",
			"confidence", d.Confidence, "threshold", e.delegationThreshold)
		return Evaluation{Decision: rejected, Verdict: VerdictRejected}
	}

	return Evaluation{Decision: d, Verdict: VerdictAccepted}
}
