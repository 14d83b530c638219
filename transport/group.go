package transport

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Tags reserved for the collectives of the source and destination groups
// of a redistribution. Data messages use tags from 2 upwards.
const (
	SourceGroupTag = 0
	DestGroupTag   = -1
)

// Group is a contiguous range of ranks of a communicator running
// collective operations. Collectives are linear and rooted: members send
// their contribution to the root, which answers each of them. Every member
// must call the same collectives in the same order.
//
// Each group uses its own tag so that a rank belonging to two groups never
// mixes their messages.
type Group struct {
	comm  Comm
	first int
	size  int
	tag   int
}

// NewGroup creates the group of ranks [first, first+size) of comm. tag must
// not be used by any other traffic between the members.
func NewGroup(comm Comm, first, size, tag int) (*Group, error) {
	if size < 1 || first < 0 || first+size > comm.Size() {
		return nil, fmt.Errorf("%w: ranks [%d, %d) of %d", ErrInvalidGroup, first, first+size, comm.Size())
	}
	return &Group{comm: comm, first: first, size: size, tag: tag}, nil
}

// Size returns the number of members.
func (g *Group) Size() int { return g.size }

// First returns the communicator rank of member 0.
func (g *Group) First() int { return g.first }

// Rank returns the caller's index in the group, or -1 for a non-member.
func (g *Group) Rank() int {
	r := g.comm.Rank() - g.first
	if r < 0 || r >= g.size {
		return -1
	}
	return r
}

// Contains reports whether a communicator rank is a member.
func (g *Group) Contains(rank int) bool {
	return rank >= g.first && rank < g.first+g.size
}

// Global converts a member index to a communicator rank.
func (g *Group) Global(member int) int { return g.first + member }

func (g *Group) self() (int, error) {
	r := g.Rank()
	if r < 0 {
		return 0, fmt.Errorf("%w: rank %d is not a member of [%d, %d)", ErrInvalidGroup, g.comm.Rank(), g.first, g.first+g.size)
	}
	return r, nil
}

func (g *Group) checkRoot(root int) error {
	if root < 0 || root >= g.size {
		return fmt.Errorf("%w: root %d of %d members", ErrInvalidGroup, root, g.size)
	}
	return nil
}

func (g *Group) send(ctx context.Context, member int, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode collective: %w", err)
	}
	return g.comm.Send(ctx, g.Global(member), g.tag, data)
}

func (g *Group) recv(ctx context.Context, member int, v any) error {
	msg, err := g.comm.Recv(ctx, g.Global(member), g.tag)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(msg.Payload(), v); err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	return nil
}

// gather collects every member's value at root. Non-roots get nil.
func gather[T any](ctx context.Context, g *Group, root int, v T) ([]T, error) {
	me, err := g.self()
	if err != nil {
		return nil, err
	}
	if err := g.checkRoot(root); err != nil {
		return nil, err
	}
	if me != root {
		return nil, g.send(ctx, root, v)
	}
	out := make([]T, g.size)
	out[root] = v
	for m := 0; m < g.size; m++ {
		if m == root {
			continue
		}
		if err := g.recv(ctx, m, &out[m]); err != nil {
			return nil, fmt.Errorf("gather from member %d: %w", m, err)
		}
	}
	return out, nil
}

// scatter hands values[m] to member m. Only root's values are read.
func scatter[T any](ctx context.Context, g *Group, root int, values []T) (T, error) {
	var zero T
	me, err := g.self()
	if err != nil {
		return zero, err
	}
	if err := g.checkRoot(root); err != nil {
		return zero, err
	}
	if me != root {
		var v T
		if err := g.recv(ctx, root, &v); err != nil {
			return zero, fmt.Errorf("scatter from root %d: %w", root, err)
		}
		return v, nil
	}
	if len(values) != g.size {
		return zero, fmt.Errorf("%w: %d values for %d members", ErrInvalidGroup, len(values), g.size)
	}
	for m := 0; m < g.size; m++ {
		if m == root {
			continue
		}
		if err := g.send(ctx, m, values[m]); err != nil {
			return zero, fmt.Errorf("scatter to member %d: %w", m, err)
		}
	}
	return values[root], nil
}

// allreduce gathers at member 0, folds with op and hands the result back.
func allreduce[T any](ctx context.Context, g *Group, v T, op func(acc, v T) T) (T, error) {
	var zero T
	all, err := gather(ctx, g, 0, v)
	if err != nil {
		return zero, err
	}
	var results []T
	if all != nil {
		acc := all[0]
		for _, x := range all[1:] {
			acc = op(acc, x)
		}
		results = make([]T, g.size)
		for i := range results {
			results[i] = acc
		}
	}
	return scatter(ctx, g, 0, results)
}

// Scan returns the exclusive prefix sum of v over the members.
func (g *Group) Scan(ctx context.Context, v int) (int, error) {
	all, err := gather(ctx, g, 0, v)
	if err != nil {
		return 0, err
	}
	var prefix []int
	if all != nil {
		prefix = make([]int, g.size)
		for m := 1; m < g.size; m++ {
			prefix[m] = prefix[m-1] + all[m-1]
		}
	}
	return scatter(ctx, g, 0, prefix)
}

// AllreduceSum returns the sum of v over the members.
func (g *Group) AllreduceSum(ctx context.Context, v int) (int, error) {
	return allreduce(ctx, g, v, func(acc, x int) int { return acc + x })
}

// ReduceSum returns the element-wise sum of v at root and nil elsewhere.
func (g *Group) ReduceSum(ctx context.Context, root int, v []int) ([]int, error) {
	all, err := gather(ctx, g, root, v)
	if err != nil || all == nil {
		return nil, err
	}
	sum := make([]int, len(v))
	for m, x := range all {
		if len(x) != len(v) {
			return nil, fmt.Errorf("%w: member %d sent %d values, expected %d", ErrInvalidGroup, m, len(x), len(v))
		}
		for i := range x {
			sum[i] += x[i]
		}
	}
	return sum, nil
}

// Scatter hands values[m] to member m and returns the caller's value.
// Only root's values are read.
func (g *Group) Scatter(ctx context.Context, root int, values []int) (int, error) {
	return scatter(ctx, g, root, values)
}

// Bcast returns root's payload on every member.
func (g *Group) Bcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	var values [][]byte
	if g.Rank() == root {
		values = make([][]byte, g.size)
		for i := range values {
			values[i] = payload
		}
	}
	return scatter(ctx, g, root, values)
}

// AllreduceMinFloat returns the element-wise minimum of v.
func (g *Group) AllreduceMinFloat(ctx context.Context, v []float32) ([]float32, error) {
	return allreduce(ctx, g, v, foldFloat(float32(math.Inf(1)), func(a, b float32) float32 { return min(a, b) }))
}

// AllreduceMaxFloat returns the element-wise maximum of v.
func (g *Group) AllreduceMaxFloat(ctx context.Context, v []float32) ([]float32, error) {
	return allreduce(ctx, g, v, foldFloat(float32(math.Inf(-1)), func(a, b float32) float32 { return max(a, b) }))
}

// foldFloat combines vectors element-wise, padding the shorter one with
// the identity of op.
func foldFloat(identity float32, op func(a, b float32) float32) func(acc, v []float32) []float32 {
	return func(acc, v []float32) []float32 {
		out := make([]float32, max(len(acc), len(v)))
		for i := range out {
			a, b := identity, identity
			if i < len(acc) {
				a = acc[i]
			}
			if i < len(v) {
				b = v[i]
			}
			out[i] = op(a, b)
		}
		return out
	}
}
