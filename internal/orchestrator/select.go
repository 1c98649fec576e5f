package orchestrator

import (
	"strings"

	"github.com/rahul/priorities/internal/plan"
)

// Selection is the outcome of choosing between two engine results.
type Selection struct {
	Primary  plan.EngineRunResult
	Shadow   *plan.EngineRunResult
	FellBack bool
}

const fallbackNote = "The iterative planner failed, so this plan comes from the single-shot planner."

// Select applies the fallback policy. A successful hybrid result is primary.
// Otherwise a successful legacy result is primary and marked as a fallback.
// When both fail, the hybrid failure is primary because it carries the
// richer diagnostics.
func Select(hybrid, legacy plan.EngineRunResult) Selection {
	switch {
	case hybrid.Succeeded():
		return Selection{Primary: hybrid, Shadow: &legacy}
	case legacy.Succeeded():
		primary := legacy
		primary.FallbackNote = fallbackNote
		if note := strings.TrimSpace(hybrid.Metadata.StatusNote); note != "" {
			primary.FallbackNote += " " + note
		}
		return Selection{Primary: primary, Shadow: &hybrid, FellBack: true}
	default:
		return Selection{Primary: hybrid, Shadow: &legacy}
	}
}

// LegacyOnly is the selection used when the hybrid engine is disabled.
func LegacyOnly(legacy plan.EngineRunResult) Selection {
	return Selection{Primary: legacy}
}
