package pyramid

import (
	"fmt"
	"sort"
)

// MaxDownsampleGap bounds composition work: at most 8×8 donor tiles.
const MaxDownsampleGap = 3

// StepKind 取瓦片方式
type StepKind int

const (
	Direct StepKind = iota
	Downsample
	Upsample
)

func (k StepKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Downsample:
		return "downsample"
	case Upsample:
		return "upsample"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is one attempt: read the tile at Donor zoom and derive the request from it.
type Step struct {
	Kind  StepKind
	Donor int
}

func (s Step) String() string {
	return fmt.Sprintf("%s@%d", s.Kind, s.Donor)
}

// Plan lists, in order, how a tile at zoom z can be derived from the
// sorted zoom levels a store holds. An empty plan means the store cannot
// serve z at all.
//
// A present level is read directly. Below the lowest level the tile is
// composed from the lowest level when the gap is small. Elsewhere the
// nearest finer level is tried before the nearest coarser one.
func Plan(z int, levels []int) []Step {
	if len(levels) == 0 || z < 0 {
		return nil
	}
	i := sort.SearchInts(levels, z)
	if i < len(levels) && levels[i] == z {
		return []Step{{Kind: Direct, Donor: z}}
	}
	if z < levels[0] {
		if levels[0]-z <= MaxDownsampleGap {
			return []Step{{Kind: Downsample, Donor: levels[0]}}
		}
		return nil
	}

	var steps []Step
	if i < len(levels) && levels[i]-z <= MaxDownsampleGap {
		steps = append(steps, Step{Kind: Downsample, Donor: levels[i]})
	}
	if i > 0 {
		steps = append(steps, Step{Kind: Upsample, Donor: levels[i-1]})
	}
	return steps
}
