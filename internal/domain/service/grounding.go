package service

import "github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"

// GroundingAccumulator keeps the latest non-empty grounding snapshot of a
// stream. A new non-empty snapshot replaces the previous one wholesale; an
// empty one never erases it.
type GroundingAccumulator struct {
	latest *entity.GroundingResult
}

// Observe records g and reports whether it replaced the current snapshot.
func (a *GroundingAccumulator) Observe(g *entity.GroundingResult) bool {
	if g.IsEmpty() {
		return false
	}
	a.latest = g
	return true
}

// Latest returns the current snapshot, or nil if none was observed.
func (a *GroundingAccumulator) Latest() *entity.GroundingResult {
	return a.latest
}
