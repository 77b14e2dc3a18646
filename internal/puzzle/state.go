package puzzle

import (
	"errors"
	"fmt"
	"math"
)

// FragmentData is the descriptive payload every puzzle state is created with.
const FragmentData = "Interval: [C --3 semitones--> ?]"

// MaxFragmentBytes bounds the fragment stored on a puzzle state.
const MaxFragmentBytes = 200

// Tag identifies one of the three resolution pathways.
type Tag string

const (
	TagA Tag = "A"
	TagB Tag = "B"
	TagC Tag = "C"
)

var errCounterOverflow = errors.New("bridge counter overflow")

// State is the shared puzzle record for one seed identifier.
// Invariant: TotalBridges == PathwayACount + PathwayBCount + PathwayCCount.
type State struct {
	SeedID        uint64 `json:"seed_id"`
	Difficulty    uint8  `json:"difficulty"`
	TotalBridges  uint64 `json:"total_bridges"`
	PathwayACount uint64 `json:"pathway_a_count"`
	PathwayBCount uint64 `json:"pathway_b_count"`
	PathwayCCount uint64 `json:"pathway_c_count"`
	IsActive      bool   `json:"is_active"`
	FragmentData  string `json:"fragment_data"`
}

// NewState returns an active state with zeroed counters.
// Difficulty is stored but not consulted by any rule.
func NewState(seedID uint64, difficulty uint8) State {
	return State{
		SeedID:       seedID,
		Difficulty:   difficulty,
		IsActive:     true,
		FragmentData: FragmentData,
	}
}

// Record counts one successful bridge through the pathway tagged t.
// The state is left untouched on error.
func (s *State) Record(t Tag) error {
	if s.TotalBridges == math.MaxUint64 {
		return errCounterOverflow
	}
	switch t {
	case TagA:
		s.PathwayACount++
	case TagB:
		s.PathwayBCount++
	case TagC:
		s.PathwayCCount++
	default:
		return fmt.Errorf("unknown pathway tag %q", t)
	}
	s.TotalBridges++
	return nil
}

// Count returns the counter for the pathway tagged t.
func (s State) Count(t Tag) uint64 {
	switch t {
	case TagA:
		return s.PathwayACount
	case TagB:
		return s.PathwayBCount
	case TagC:
		return s.PathwayCCount
	}
	return 0
}

// Validate checks the counter invariant and the fragment bound.
func (s State) Validate() error {
	sum := s.PathwayACount + s.PathwayBCount + s.PathwayCCount
	if sum < s.PathwayACount || sum != s.TotalBridges {
		return fmt.Errorf("counter invariant violated: total=%d a=%d b=%d c=%d",
			s.TotalBridges, s.PathwayACount, s.PathwayBCount, s.PathwayCCount)
	}
	if len(s.FragmentData) > MaxFragmentBytes {
		return fmt.Errorf("fragment exceeds %d bytes", MaxFragmentBytes)
	}
	return nil
}
