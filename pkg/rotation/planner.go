// Package rotation partitions the tracked-entity roster into fixed-size
// batches and maintains the persisted rotation cursor that advances
// round-robin through them across fetch cycles.
package rotation

import (
	"errors"
	"sort"

	"github.com/Sternrassler/celebwire/pkg/roster"
)

// DefaultBatchSize is the default number of entities per batch.
const DefaultBatchSize = 25

// ErrEmptyRoster is returned when a cycle is planned over zero active entities.
var ErrEmptyRoster = errors.New("no active entities to plan")

// Batch is one fixed-size group of entities queried together.
type Batch struct {
	// Index is the batch position within the current partition.
	Index int

	// Entities are the batch members in stable ID order.
	Entities []roster.Entity
}

// State is the persisted rotation cursor. The cursor is always in
// [0, TotalBatches) for a non-empty partition.
type State struct {
	Cursor       int `json:"cursor"`
	TotalBatches int `json:"total_batches"`
}

// Advance returns the state after one cycle attempt: the cursor moves to the
// next batch, wrapping to 0 after the last one.
func (s State) Advance() State {
	if s.TotalBatches <= 0 {
		return State{Cursor: 0, TotalBatches: s.TotalBatches}
	}
	return State{
		Cursor:       (s.Cursor + 1) % s.TotalBatches,
		TotalBatches: s.TotalBatches,
	}
}

// Partition deterministically splits entities into batches of batchSize.
// Input order does not matter: entities are stable-sorted by ID first, so the
// same roster always yields the same batch boundaries. The last batch may be
// smaller than batchSize.
func Partition(entities []roster.Entity, batchSize int) []Batch {
	if len(entities) == 0 || batchSize <= 0 {
		return nil
	}

	sorted := make([]roster.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	batches := make([]Batch, 0, (len(sorted)+batchSize-1)/batchSize)
	for start := 0; start < len(sorted); start += batchSize {
		end := start + batchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, Batch{
			Index:    len(batches),
			Entities: sorted[start:end],
		})
	}
	return batches
}

// Planner computes the batch to fetch for a cycle.
type Planner struct {
	batchSize int
}

// NewPlanner creates a planner with the given batch size.
func NewPlanner(batchSize int) *Planner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Planner{batchSize: batchSize}
}

// PlanCycle partitions the current roster and returns the batch at the
// persisted cursor plus the advanced state to persist after the cycle.
//
// If the roster changed since the cursor was written, batch boundaries are
// recomputed and the cursor position is preserved numerically (reduced into
// range when the partition shrank). Coverage may shift in that case; that is
// documented behavior, not a bug.
func (p *Planner) PlanCycle(entities []roster.Entity, state State) (Batch, State, error) {
	batches := Partition(entities, p.batchSize)
	if len(batches) == 0 {
		return Batch{}, state, ErrEmptyRoster
	}

	cursor := state.Cursor
	if cursor < 0 || cursor >= len(batches) {
		cursor = cursor % len(batches)
		if cursor < 0 {
			cursor = 0
		}
	}

	current := State{Cursor: cursor, TotalBatches: len(batches)}
	return batches[cursor], current.Advance(), nil
}
