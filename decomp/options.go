package decomp

import (
	"fmt"
	"strings"
)

// blockOptions holds configuration for the block strategy (unexported)
type blockOptions struct {
	field string
}

// BlockOption configures the block strategy
type BlockOption func(*blockOptions)

// WithBlockField sets the name of the domain field.
// Default: "domain_block"
func WithBlockField(name string) BlockOption {
	return func(o *blockOptions) {
		if name != "" {
			o.field = name
		}
	}
}

func newBlockOptions(opts ...BlockOption) *blockOptions {
	o := &blockOptions{field: DefaultBlockField}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// zcurveOptions holds configuration for the z-curve strategy (unexported)
type zcurveOptions struct {
	slices [3]uint32
	bbox   []float32
}

// ZCurveOption configures the z-curve strategy
type ZCurveOption func(*zcurveOptions)

// WithSlices sets the number of grid cells per dimension. Values below 1
// are raised to 1 and values above 1024 lowered to 1024, the resolution of
// a 10-bit Morton coordinate.
// Default: 8, 8, 8
func WithSlices(x, y, z int) ZCurveOption {
	return func(o *zcurveOptions) {
		for i, v := range []int{x, y, z} {
			o.slices[i] = uint32(min(max(v, 1), 1024))
		}
	}
}

// WithBBox fixes the global box as [minx miny minz maxx maxy maxz] and
// skips the reduction over sources. Boxes of another length are ignored.
func WithBBox(box []float32) ZCurveOption {
	return func(o *zcurveOptions) {
		if len(box) == 6 {
			o.bbox = append([]float32(nil), box...)
		}
	}
}

func newZCurveOptions(opts ...ZCurveOption) *zcurveOptions {
	o := &zcurveOptions{slices: [3]uint32{8, 8, 8}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Names lists the strategies New knows.
func Names() []string {
	return []string{"count", "round", "block", "zcurve", "proc"}
}

// New creates a strategy by name with default options.
func New(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "count":
		return NewCount(), nil
	case "round", "roundrobin", "round-robin":
		return NewRoundRobin(), nil
	case "block":
		return NewBlock(), nil
	case "zcurve", "z-curve":
		return NewZCurve(), nil
	case "proc":
		return NewProc(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
