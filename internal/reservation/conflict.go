package reservation

import (
	"github.com/stay-ledger/backend/internal/storage/models"
)

// Conflict is one occupied interval intersecting a proposed stay.
type Conflict struct {
	Kind    models.BlockKind `json:"kind"`
	Ref     string           `json:"ref"`
	Label   string           `json:"label,omitempty"`
	Range   models.DateRange `json:"range"`
	Overlap models.DateRange `json:"overlap"`
}

// Detect returns every candidate that blocks and intersects proposed.
// Candidates whose ref equals excludeID are ignored so a record never
// conflicts with itself. Touching intervals do not conflict.
func Detect(proposed models.DateRange, candidates []models.Blocker, excludeID string) []Conflict {
	var conflicts []Conflict
	for _, c := range candidates {
		if !c.Blocks() {
			continue
		}
		block := c.Block()
		if excludeID != "" && block.Kind == models.BlockReservation && block.Ref == excludeID {
			continue
		}
		overlap, ok := proposed.Intersect(block.Range)
		if !ok {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Kind:    block.Kind,
			Ref:     block.Ref,
			Label:   block.Label,
			Range:   block.Range,
			Overlap: overlap,
		})
	}
	return conflicts
}

// HasConflict reports whether Detect would return anything.
func HasConflict(proposed models.DateRange, candidates []models.Blocker, excludeID string) bool {
	return len(Detect(proposed, candidates, excludeID)) > 0
}
