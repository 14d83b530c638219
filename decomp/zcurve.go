package decomp

import (
	"context"
	"fmt"
	"math"

	"github.com/rbaliyan/redist/container"
)

// ZCurve orders items along a Morton curve over a regular grid of slices
// and cuts the curve into N ranges of grid cells. Items are routed by
// their position, or by their Morton code when the container has no
// position key.
type ZCurve struct {
	opts *zcurveOptions
}

// NewZCurve creates a z-curve strategy.
func NewZCurve(opts ...ZCurveOption) *ZCurve {
	return &ZCurve{opts: newZCurveOptions(opts...)}
}

// Name returns "zcurve"
func (s *ZCurve) Name() string { return "zcurve" }

// Slices returns the grid resolution.
func (s *ZCurve) Slices() [3]uint32 { return s.opts.slices }

// Layout resolves the global box: the configured one, or the union of the
// local position boxes over the sources. A source without items still
// takes part in the reduction before reporting the error.
func (s *ZCurve) Layout(ctx context.Context, coll Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	l := Layout{Rank: rank, Sources: sources, Dests: dests, Local: c.Len()}
	if dests < 1 {
		return l, configErrorf("%d destinations", dests)
	}
	if s.opts.bbox != nil {
		l.BBox = append([]float32(nil), s.opts.bbox...)
		return l, nil
	}
	if !c.Metadata().HasPosKey() {
		if c.Metadata().HasMortonKey() {
			return l, nil
		}
		return l, &container.CapabilityError{Reason: "z-curve needs a position key, a morton key or a configured box"}
	}

	pos, posErr := c.Positions()
	lo, hi := localBox(pos)

	if sources > 1 {
		var err error
		if lo, err = coll.AllreduceMinFloat(ctx, lo); err != nil {
			return l, fmt.Errorf("reduce box minimum: %w", err)
		}
		if hi, err = coll.AllreduceMaxFloat(ctx, hi); err != nil {
			return l, fmt.Errorf("reduce box maximum: %w", err)
		}
	}

	if posErr != nil {
		return l, posErr
	}
	if len(pos) == 0 {
		return l, &container.CapabilityError{Reason: "cannot compute a bounding box without items"}
	}
	l.BBox = append(lo, hi...)
	return l, nil
}

func localBox(pos []float32) (lo, hi []float32) {
	inf := float32(math.Inf(1))
	lo = []float32{inf, inf, inf}
	hi = []float32{-inf, -inf, -inf}
	for i := 0; i+2 < len(pos); i += 3 {
		for k := 0; k < 3; k++ {
			lo[k] = min(lo[k], pos[i+k])
			hi[k] = max(hi[k], pos[i+k])
		}
	}
	return lo, hi
}

// Plan computes a Morton code per item and maps it to a destination.
func (s *ZCurve) Plan(c *container.Container, l Layout) (*Plan, error) {
	codes, err := s.codes(c, l.BBox)
	if err != nil {
		return nil, err
	}

	lists := make([]container.IndexList, l.Dests)
	for i, code := range codes {
		d, err := s.Destination(code, l.Dests)
		if err != nil {
			return nil, err
		}
		lists[d].Add(i)
	}
	ranges := make([][]int, len(lists))
	for d := range lists {
		ranges[d] = lists[d].Ranges()
	}
	return planFromLists(ranges), nil
}

func (s *ZCurve) codes(c *container.Container, bbox []float32) ([]uint32, error) {
	meta := c.Metadata()
	if !meta.HasPosKey() {
		return c.MortonCodes()
	}
	if len(bbox) != 6 {
		return nil, &container.CapabilityError{Reason: "z-curve layout has no bounding box"}
	}
	pos, err := c.Positions()
	if err != nil {
		return nil, err
	}
	codes := make([]uint32, len(pos)/3)
	for i := range codes {
		codes[i] = s.Encode(bbox, pos[3*i], pos[3*i+1], pos[3*i+2])
	}
	return codes, nil
}

// Encode returns the Morton code of the grid cell containing a point.
// Points outside the box are clamped to the border cells.
func (s *ZCurve) Encode(bbox []float32, x, y, z float32) uint32 {
	p := [3]float32{x, y, z}
	var cell [3]uint32
	for k := 0; k < 3; k++ {
		n := s.opts.slices[k]
		delta := (bbox[3+k] - bbox[k]) / float32(n)
		if delta <= 0 {
			continue
		}
		v := math.Floor(float64((p[k] - bbox[k]) / delta))
		switch {
		case v < 0:
			cell[k] = 0
		case v >= float64(n):
			cell[k] = n - 1
		default:
			cell[k] = uint32(v)
		}
	}
	return container.EncodeMorton(cell[0], cell[1], cell[2])
}

// Destination maps a Morton code to a destination index. The code range
// [0, maxIndex] is cut into dests ranges, the first maxIndex mod dests of
// them one code larger.
func (s *ZCurve) Destination(code uint32, dests int) (int, error) {
	sl := s.opts.slices
	maxIndex := int(container.EncodeMorton(sl[0]-1, sl[1]-1, sl[2]-1))
	perDest := maxIndex / dests
	if perDest == 0 {
		return 0, configErrorf("%d destinations for %d grid cells", dests, maxIndex+1)
	}
	offset := maxIndex % dests

	m := int(code)
	var d int
	if m < offset*(perDest+1) {
		d = m / (perDest + 1)
	} else {
		d = offset + (m-offset*(perDest+1))/perDest
	}
	if d >= dests {
		d = dests - 1
	}
	return d, nil
}
