package redist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/payload"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/channel"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

const testTimeout = 10 * time.Second

// idContainer holds n items with ids [first, first+n) and a shared step.
func idContainer(t *testing.T, first, n int) *container.Container {
	t.Helper()
	ids := make([]int32, n)
	for i := range ids {
		ids[i] = int32(first + i)
	}
	c := container.New()
	if err := c.Append("id", container.NewArray(ids, 1), container.Private, container.SplitDefault, container.MergeDefault); err != nil {
		t.Fatalf("Append id failed: %v", err)
	}
	if err := c.Append("step", container.NewScalar(int64(7)), container.Shared, container.SplitKeepValue, container.MergeFirstValue); err != nil {
		t.Fatalf("Append step failed: %v", err)
	}
	return c
}

// sortedIDs returns the ids of c in ascending order, nil without items.
func sortedIDs(c *container.Container) []int32 {
	f, ok := container.FieldAs[*container.Array[int32]](c, "id")
	if !ok || len(f.Values()) == 0 {
		return nil
	}
	out := slices.Clone(f.Values())
	slices.Sort(out)
	return out
}

// orderedIDs returns the ids of c in container order, nil without items.
func orderedIDs(c *container.Container) []int32 {
	f, ok := container.FieldAs[*container.Array[int32]](c, "id")
	if !ok || len(f.Values()) == 0 {
		return nil
	}
	return slices.Clone(f.Values())
}

func idRange(first, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(first + i)
	}
	return out
}

// scenario describes one redistribution over an in-process world.
type scenario struct {
	size     int
	sources  Range
	dests    Range
	strategy func() decomp.Strategy
	opts     []Option

	// data builds the container of a rank. Ranks without data start empty.
	data func(t *testing.T, rank int) *container.Container

	// wrap optionally replaces the communicator of a rank.
	wrap func(rank int, comm transport.Comm) transport.Comm

	iterations int
}

// run executes the scenario and returns every destination's container.
func (s scenario) run(t *testing.T) map[int]*container.Container {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[int]*container.Container)
	iterations := max(s.iterations, 1)

	err := RunRanks(ctx, s.size, func(ctx context.Context, comm transport.Comm) error {
		rank := comm.Rank()
		if s.wrap != nil {
			comm = s.wrap(rank, comm)
		}
		c := TestComponent(comm, s.sources, s.dests, s.strategy(), s.opts...)
		role := c.Roles()
		if role == 0 {
			return nil
		}

		var data *container.Container
		for i := 0; i < iterations; i++ {
			data = container.New()
			if s.data != nil && c.IsSource() {
				data = s.data(t, rank)
			}
			if err := c.Process(ctx, data, role); err != nil {
				return err
			}
			if err := c.Flush(ctx); err != nil {
				return err
			}
		}
		if c.IsDest() {
			mu.Lock()
			results[rank] = data
			mu.Unlock()
		}
		return c.Shutdown(ctx)
	})
	if err != nil {
		t.Fatalf("redistribution failed: %v", err)
	}
	return results
}

func countStrategy() decomp.Strategy { return decomp.NewCount() }

func TestProcessCount(t *testing.T) {
	t.Run("4 sources of 1000 items to 3 destinations", func(t *testing.T) {
		s := scenario{
			size:     4,
			sources:  Range{First: 0, Count: 4},
			dests:    Range{First: 0, Count: 3},
			strategy: countStrategy,
			data: func(t *testing.T, rank int) *container.Container {
				return idContainer(t, rank*1000, 1000)
			},
		}
		results := s.run(t)

		want := map[int][]int32{
			0: idRange(0, 1334),
			1: idRange(1334, 1333),
			2: idRange(2667, 1333),
		}
		for rank, ids := range want {
			if diff := cmp.Diff(ids, sortedIDs(results[rank])); diff != "" {
				t.Errorf("rank %d ids mismatch (-want +got):\n%s", rank, diff)
			}
			step, ok := container.FieldAs[*container.Scalar[int64]](results[rank], "step")
			if !ok || step.Value() != 7 {
				t.Errorf("rank %d: expected shared step 7", rank)
			}
		}
	})

	t.Run("Disjoint groups", func(t *testing.T) {
		n := faker.RandomInt(1, 50)
		s := scenario{
			size:     5,
			sources:  Range{First: 0, Count: 3},
			dests:    Range{First: 3, Count: 2},
			strategy: countStrategy,
			data: func(t *testing.T, rank int) *container.Container {
				return idContainer(t, rank*n, n)
			},
		}
		results := s.run(t)

		total := 3 * n
		first := total/2 + total%2
		if diff := cmp.Diff(idRange(0, first), sortedIDs(results[3])); diff != "" {
			t.Errorf("rank 3 ids mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(idRange(first, total-first), sortedIDs(results[4])); diff != "" {
			t.Errorf("rank 4 ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Several iterations", func(t *testing.T) {
		s := scenario{
			size:       3,
			sources:    Range{First: 0, Count: 3},
			dests:      Range{First: 1, Count: 2},
			strategy:   countStrategy,
			iterations: 3,
			data: func(t *testing.T, rank int) *container.Container {
				return idContainer(t, rank*10, 10)
			},
		}
		results := s.run(t)
		if diff := cmp.Diff(idRange(0, 15), sortedIDs(results[1])); diff != "" {
			t.Errorf("rank 1 ids mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(idRange(15, 15), sortedIDs(results[2])); diff != "" {
			t.Errorf("rank 2 ids mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCommAndMergeMethods(t *testing.T) {
	want := map[int][]int32{3: idRange(0, 12), 4: idRange(12, 12)}

	variants := []struct {
		name string
		opts []Option
	}{
		{"collective step", nil},
		{"collective once", []Option{WithMergeMethod(MergeOnce)}},
		{"p2p step", []Option{WithCommMethod(CommP2P)}},
		{"p2p once", []Option{WithCommMethod(CommP2P), WithMergeMethod(MergeOnce)}},
		{"no transit", []Option{WithTransit(false)}},
		{"p2p no transit", []Option{WithCommMethod(CommP2P), WithTransit(false)}},
		{"packed", []Option{WithPack(payload.PackOptions{Compression: payload.Zstd, Checksum: true})}},
		{"packed lz4", []Option{WithPack(payload.PackOptions{Compression: payload.LZ4})}},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			s := scenario{
				size:     5,
				sources:  Range{First: 0, Count: 4},
				dests:    Range{First: 3, Count: 2},
				strategy: countStrategy,
				opts:     v.opts,
				data: func(t *testing.T, rank int) *container.Container {
					return idContainer(t, rank*6, 6)
				},
			}
			results := s.run(t)
			for rank, ids := range want {
				if diff := cmp.Diff(ids, sortedIDs(results[rank])); diff != "" {
					t.Errorf("rank %d ids mismatch (-want +got):\n%s", rank, diff)
				}
			}
		})
	}
}

func TestTransitEquivalence(t *testing.T) {
	layouts := []struct {
		name    string
		size    int
		sources Range
		dests   Range
		want    map[int][]int32
	}{
		{
			name:    "own items",
			size:    2,
			sources: Range{First: 0, Count: 2},
			dests:   Range{First: 0, Count: 2},
			want:    map[int][]int32{0: idRange(0, 4), 1: idRange(4, 4)},
		},
		{
			name:    "three senders to one destination",
			size:    3,
			sources: Range{First: 0, Count: 3},
			dests:   Range{First: 0, Count: 1},
			want:    map[int][]int32{0: idRange(0, 12)},
		},
		{
			name:    "four senders to two destinations",
			size:    4,
			sources: Range{First: 0, Count: 4},
			dests:   Range{First: 1, Count: 2},
			want:    map[int][]int32{1: idRange(0, 8), 2: idRange(8, 8)},
		},
	}
	methods := []struct {
		name string
		opts []Option
	}{
		{"collective step", nil},
		{"collective once", []Option{WithMergeMethod(MergeOnce)}},
		{"p2p step", []Option{WithCommMethod(CommP2P)}},
		{"p2p once", []Option{WithCommMethod(CommP2P), WithMergeMethod(MergeOnce)}},
	}

	for _, l := range layouts {
		for _, m := range methods {
			t.Run(l.name+"/"+m.name, func(t *testing.T) {
				run := func(transit bool) map[int]*container.Container {
					return scenario{
						size:     l.size,
						sources:  l.sources,
						dests:    l.dests,
						strategy: countStrategy,
						opts:     append(slices.Clone(m.opts), WithTransit(transit)),
						data: func(t *testing.T, rank int) *container.Container {
							return idContainer(t, rank*4, 4)
						},
					}.run(t)
				}
				// Arrival order varies between runs, the folded result may not.
				for i := 0; i < 5; i++ {
					with, without := run(true), run(false)
					for rank, want := range l.want {
						a, b := with[rank], without[rank]
						if diff := cmp.Diff(want, orderedIDs(a)); diff != "" {
							t.Fatalf("rank %d ids with transit (-want +got):\n%s", rank, diff)
						}
						if diff := cmp.Diff(want, orderedIDs(b)); diff != "" {
							t.Fatalf("rank %d ids without transit (-want +got):\n%s", rank, diff)
						}
						wa, err := a.Serialize()
						if err != nil {
							t.Fatal(err)
						}
						wb, err := b.Serialize()
						if err != nil {
							t.Fatal(err)
						}
						if !bytes.Equal(wa, wb) {
							t.Fatalf("rank %d: serialized containers differ with and without transit", rank)
						}
					}
				}
			})
		}
	}
}

func TestProcessRoundRobin(t *testing.T) {
	want := map[int][]int32{
		0: {0, 2, 4, 6, 8},
		1: {1, 3, 5, 7, 9},
	}

	// The same 10 global ids, cut differently across the sources.
	partitions := [][]int{{5, 5}, {2, 8}, {7, 3}}
	for _, counts := range partitions {
		t.Run(fmt.Sprintf("%d/%d", counts[0], counts[1]), func(t *testing.T) {
			s := scenario{
				size:     2,
				sources:  Range{First: 0, Count: 2},
				dests:    Range{First: 0, Count: 2},
				strategy: func() decomp.Strategy { return decomp.NewRoundRobin() },
				data: func(t *testing.T, rank int) *container.Container {
					first := 0
					for _, n := range counts[:rank] {
						first += n
					}
					return idContainer(t, first, counts[rank])
				},
			}
			results := s.run(t)
			for rank, ids := range want {
				if diff := cmp.Diff(ids, sortedIDs(results[rank])); diff != "" {
					t.Errorf("rank %d ids mismatch (-want +got):\n%s", rank, diff)
				}
			}
		})
	}
}

func TestProcessProc(t *testing.T) {
	procStrategy := func() decomp.Strategy { return decomp.NewProc() }

	t.Run("Gather", func(t *testing.T) {
		s := scenario{
			size:     6,
			sources:  Range{First: 0, Count: 4},
			dests:    Range{First: 4, Count: 2},
			strategy: procStrategy,
			data: func(t *testing.T, rank int) *container.Container {
				return idContainer(t, rank*5, 5)
			},
		}
		results := s.run(t)
		if diff := cmp.Diff(idRange(0, 10), sortedIDs(results[4])); diff != "" {
			t.Errorf("rank 4 ids mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(idRange(10, 10), sortedIDs(results[5])); diff != "" {
			t.Errorf("rank 5 ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Broadcast", func(t *testing.T) {
		s := scenario{
			size:     3,
			sources:  Range{First: 0, Count: 1},
			dests:    Range{First: 0, Count: 3},
			strategy: procStrategy,
			data: func(t *testing.T, rank int) *container.Container {
				return idContainer(t, 0, 5)
			},
		}
		results := s.run(t)
		for rank := 0; rank < 3; rank++ {
			if diff := cmp.Diff(idRange(0, 5), sortedIDs(results[rank])); diff != "" {
				t.Errorf("rank %d ids mismatch (-want +got):\n%s", rank, diff)
			}
		}
	})

	t.Run("Empty source still sends", func(t *testing.T) {
		s := scenario{
			size:     4,
			sources:  Range{First: 0, Count: 2},
			dests:    Range{First: 2, Count: 2},
			strategy: procStrategy,
			data: func(t *testing.T, rank int) *container.Container {
				if rank == 1 {
					return container.New()
				}
				return idContainer(t, 0, 3)
			},
		}
		results := s.run(t)
		if diff := cmp.Diff(idRange(0, 3), sortedIDs(results[2])); diff != "" {
			t.Errorf("rank 2 ids mismatch (-want +got):\n%s", diff)
		}
		if results[3].Len() != 0 {
			t.Errorf("rank 3: expected no items, got %d", results[3].Len())
		}
	})
}

func TestProcessZCurve(t *testing.T) {
	const n = 20
	s := scenario{
		size:     3,
		sources:  Range{First: 0, Count: 2},
		dests:    Range{First: 0, Count: 3},
		strategy: func() decomp.Strategy { return decomp.NewZCurve() },
		data: func(t *testing.T, rank int) *container.Container {
			c := idContainer(t, rank*n, n)
			pos := make([]float32, 3*n)
			for i := range pos {
				pos[i] = float32(faker.RandomInt(0, 9999)) / 100
			}
			if err := c.Append("pos", container.NewArray(pos, 3), container.Private, container.SplitDefault, container.MergeDefault, container.Pos); err != nil {
				t.Fatalf("Append pos failed: %v", err)
			}
			return c
		},
	}
	results := s.run(t)

	var all []int32
	for rank := 0; rank < 3; rank++ {
		c := results[rank]
		all = append(all, sortedIDs(c)...)
		if c.Len() == 0 {
			continue
		}
		pos, err := c.Positions()
		if err != nil {
			t.Fatalf("rank %d: Positions failed: %v", rank, err)
		}
		if len(pos) != 3*c.Len() {
			t.Errorf("rank %d: %d coordinates for %d items", rank, len(pos), c.Len())
		}
	}
	slices.Sort(all)
	if diff := cmp.Diff(idRange(0, 2*n), all); diff != "" {
		t.Errorf("items lost or duplicated (-want +got):\n%s", diff)
	}
}

func TestSystemOnlyReplication(t *testing.T) {
	s := scenario{
		size:     3,
		sources:  Range{First: 0, Count: 1},
		dests:    Range{First: 0, Count: 3},
		strategy: countStrategy,
		data: func(t *testing.T, rank int) *container.Container {
			c := container.New()
			if err := c.Append("dt", container.NewScalar(0.5), container.System, container.SplitDefault, container.MergeDefault); err != nil {
				t.Fatalf("Append dt failed: %v", err)
			}
			return c
		},
	}
	results := s.run(t)
	for rank := 0; rank < 3; rank++ {
		dt, ok := container.FieldAs[*container.Scalar[float64]](results[rank], "dt")
		if !ok {
			t.Errorf("rank %d: missing system field", rank)
			continue
		}
		if dt.Value() != 0.5 {
			t.Errorf("rank %d: expected 0.5, got %v", rank, dt.Value())
		}
	}
}

func TestAddValues(t *testing.T) {
	s := scenario{
		size:     3,
		sources:  Range{First: 0, Count: 2},
		dests:    Range{First: 2, Count: 1},
		strategy: countStrategy,
		data: func(t *testing.T, rank int) *container.Container {
			c := idContainer(t, rank*3, 3)
			if err := c.Append("n", container.NewScalar(int64(3)), container.Shared, container.SplitKeepValue, container.MergeAddValue); err != nil {
				t.Fatalf("Append n failed: %v", err)
			}
			return c
		},
	}
	results := s.run(t)

	n, ok := container.FieldAs[*container.Scalar[int64]](results[2], "n")
	if !ok || n.Value() != 6 {
		t.Errorf("expected summed counter 6, got %+v", n)
	}
	if diff := cmp.Diff(idRange(0, 6), sortedIDs(results[2])); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyDestination(t *testing.T) {
	for _, method := range []CommMethod{CommCollective, CommP2P} {
		t.Run(method.String(), func(t *testing.T) {
			var mu sync.Mutex
			recorders := make(map[int]*RecordingComm)

			// 2 items over 3 destinations leave the last one empty.
			s := scenario{
				size:     5,
				sources:  Range{First: 0, Count: 2},
				dests:    Range{First: 2, Count: 3},
				strategy: countStrategy,
				opts:     []Option{WithCommMethod(method)},
				data: func(t *testing.T, rank int) *container.Container {
					if rank == 0 {
						return idContainer(t, 0, 2)
					}
					return idContainer(t, 0, 0)
				},
				wrap: func(rank int, comm transport.Comm) transport.Comm {
					rec := NewRecordingComm(comm)
					mu.Lock()
					recorders[rank] = rec
					mu.Unlock()
					return rec
				},
			}
			results := s.run(t)

			if diff := cmp.Diff([]int32{0}, sortedIDs(results[2])); diff != "" {
				t.Errorf("rank 2 ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]int32{1}, sortedIDs(results[3])); diff != "" {
				t.Errorf("rank 3 ids mismatch (-want +got):\n%s", diff)
			}
			if results[4].Len() != 0 {
				t.Errorf("rank 4: expected no items, got %d", results[4].Len())
			}

			toEmpty := 0
			for _, rank := range []int{0, 1} {
				for _, send := range recorders[rank].SendsWithTag(DataTag) {
					if send.Dest == 4 {
						toEmpty++
					}
				}
			}
			want := 0
			if method == CommP2P {
				want = 2
			}
			if toEmpty != want {
				t.Errorf("expected %d messages to the empty destination, got %d", want, toEmpty)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	var mu sync.Mutex
	recorders := make(map[int]*RecordingComm)
	s := scenario{
		size:     4,
		sources:  Range{First: 0, Count: 2},
		dests:    Range{First: 2, Count: 2},
		strategy: countStrategy,
		data: func(t *testing.T, rank int) *container.Container {
			return idContainer(t, rank*4, 4)
		},
		wrap: func(rank int, comm transport.Comm) transport.Comm {
			rec := NewRecordingComm(comm)
			mu.Lock()
			recorders[rank] = rec
			mu.Unlock()
			return rec
		},
	}
	s.run(t)

	// Only the source root forwards the counts, to the destination root.
	meta := recorders[0].SendsWithTag(MetaTag)
	if len(meta) != 1 || meta[0].Dest != 2 {
		t.Errorf("expected one count message to rank 2, got %+v", meta)
	}
	if got := recorders[1].SendsWithTag(MetaTag); len(got) != 0 {
		t.Errorf("expected no count message from rank 1, got %+v", got)
	}
	for _, rank := range []int{2, 3} {
		if got := recorders[rank].SendsWithTag(DataTag); len(got) != 0 {
			t.Errorf("rank %d: destinations must not send data, got %+v", rank, got)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	world, err := channel.NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()

	tests := []struct {
		name     string
		sources  Range
		dests    Range
		strategy decomp.Strategy
		opts     []Option
	}{
		{"Sources out of range", Range{First: 0, Count: 3}, Range{First: 0, Count: 1}, decomp.NewCount(), nil},
		{"Empty destinations", Range{First: 0, Count: 1}, Range{First: 1, Count: 0}, decomp.NewCount(), nil},
		{"Negative first rank", Range{First: -1, Count: 1}, Range{First: 0, Count: 1}, decomp.NewCount(), nil},
		{"Nil strategy", Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, nil, nil},
		{"Unknown comm method", Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, decomp.NewCount(), []Option{WithCommMethod(CommMethod(9))}},
		{"Unknown merge method", Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, decomp.NewCount(), []Option{WithMergeMethod(MergeMethod(9))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fatal []error
			opts := append([]Option{WithFatalHandler(func(err error) { fatal = append(fatal, err) })}, tt.opts...)
			_, err := New(world.Comm(0), tt.sources, tt.dests, tt.strategy, opts...)
			if !IsConfig(err) {
				t.Fatalf("expected config error, got %v", err)
			}
			if !IsFatal(err) {
				t.Error("expected config errors to be fatal")
			}
			if len(fatal) != 1 || !errors.Is(fatal[0], ErrConfig) {
				t.Errorf("expected the fatal handler to get the error once, got %v", fatal)
			}
		})
	}

	t.Run("Proc counts not dividing", func(t *testing.T) {
		w, _ := channel.NewWorld(5)
		defer w.Close()
		_, err := New(w.Comm(0), Range{First: 0, Count: 3}, Range{First: 3, Count: 2}, decomp.NewProc(),
			WithFatalHandler(func(error) {}))
		if !IsConfig(err) {
			t.Errorf("expected config error, got %v", err)
		}
	})

	t.Run("Role mismatch", func(t *testing.T) {
		var fatal int
		c := TestComponent(world.Comm(0), Range{First: 0, Count: 1}, Range{First: 1, Count: 1}, decomp.NewCount(),
			WithFatalHandler(func(error) { fatal++ }))
		if c.Roles() != RoleSource {
			t.Fatalf("expected source role, got %v", c.Roles())
		}
		err := c.Process(context.Background(), container.New(), RoleDest)
		if !IsConfig(err) {
			t.Errorf("expected config error, got %v", err)
		}
		if fatal != 1 {
			t.Errorf("expected one fatal call, got %d", fatal)
		}
		if err := c.Process(context.Background(), nil, RoleSource); !IsConfig(err) {
			t.Errorf("expected config error for nil container, got %v", err)
		}
		if err := c.Process(context.Background(), container.New(), Role(8)); !IsConfig(err) {
			t.Errorf("expected config error for invalid role, got %v", err)
		}
	})
}

func TestCapabilityError(t *testing.T) {
	world, err := channel.NewWorld(1)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()

	var fatal []error
	c := TestComponent(world.Comm(0), Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, decomp.NewCount(),
		WithFatalHandler(func(err error) { fatal = append(fatal, err) }))

	data := idContainer(t, 0, 4)
	if err := data.Append("domain", container.NewBlockField(container.Block{}), container.Shared, container.SplitDefault, container.MergeDefault); err != nil {
		t.Fatalf("Append domain failed: %v", err)
	}

	err = c.Process(context.Background(), data, RoleBoth)
	if !IsCapability(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if len(fatal) != 1 || !errors.Is(fatal[0], ErrCapability) {
		t.Errorf("expected the fatal handler to get the error once, got %v", fatal)
	}
	if c.State() != StateIdle {
		t.Errorf("expected idle state, got %v", c.State())
	}
}

func TestContractError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var fatal int
	var mergeErr error
	var kept []float32

	err := RunRanks(ctx, 2, func(ctx context.Context, comm transport.Comm) error {
		c := TestComponent(comm, Range{First: 0, Count: 1}, Range{First: 1, Count: 1}, decomp.NewCount(),
			WithFatalHandler(func(error) { fatal++ }))
		if comm.Rank() == 0 {
			if err := c.Process(ctx, idContainer(t, 0, 3), RoleSource); err != nil {
				return err
			}
			return c.Flush(ctx)
		}

		// The destination already holds float ids.
		data := container.New()
		if err := data.Append("id", container.NewArray([]float32{1, 2}, 1), container.Private, container.SplitDefault, container.MergeDefault); err != nil {
			return err
		}
		if err := data.Append("step", container.NewScalar(int64(7)), container.Shared, container.SplitKeepValue, container.MergeFirstValue); err != nil {
			return err
		}
		mergeErr = c.Process(ctx, data, RoleDest)
		if f, ok := container.FieldAs[*container.Array[float32]](data, "id"); ok {
			kept = f.Values()
		}
		return c.Flush(ctx)
	})
	if err != nil {
		t.Fatal(err)
	}

	if !IsContract(mergeErr) {
		t.Fatalf("expected contract error, got %v", mergeErr)
	}
	if IsFatal(mergeErr) || fatal != 0 {
		t.Errorf("contract errors must not be fatal (fatal calls %d)", fatal)
	}
	if diff := cmp.Diff([]float32{1, 2}, kept); diff != "" {
		t.Errorf("destination changed after failed merge (-want +got):\n%s", diff)
	}
}

func TestSendFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	world, err := channel.NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()

	failing := NewFailingComm(world.Comm(0))
	failing.FailNext(1, transport.ErrTransportClosed)

	c := TestComponent(failing, Range{First: 0, Count: 1}, Range{First: 1, Count: 1}, decomp.NewCount(),
		WithCommMethod(CommP2P))
	err = c.Process(ctx, idContainer(t, 0, 3), RoleSource)
	if !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if IsFatal(err) {
		t.Error("transport errors must not be fatal")
	}
}

func TestFlushAndTags(t *testing.T) {
	world, err := channel.NewWorld(1)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()
	ctx := context.Background()

	c := TestComponent(world.Comm(0), Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, decomp.NewCount())
	if c.Tag() != DataTag {
		t.Fatalf("expected first tag %d, got %d", DataTag, c.Tag())
	}

	data := idContainer(t, 0, 3)
	if err := c.Process(ctx, data, RoleBoth); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(idRange(0, 3), sortedIDs(data)); diff != "" {
		t.Errorf("transit ids mismatch (-want +got):\n%s", diff)
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Tag() != DataTag+1 {
		t.Errorf("expected tag %d, got %d", DataTag+1, c.Tag())
	}

	c.ClearBuffers(RoleBoth)
	if c.Tag() != DataTag+1 {
		t.Errorf("ClearBuffers must not move the tag, got %d", c.Tag())
	}

	c.tag = math.MaxInt32
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Tag() != DataTag {
		t.Errorf("expected tag to wrap to %d, got %d", DataTag, c.Tag())
	}
}

func TestShutdown(t *testing.T) {
	world, err := channel.NewWorld(1)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()
	ctx := context.Background()

	c := TestComponent(world.Comm(0), Range{First: 0, Count: 1}, Range{First: 0, Count: 1}, decomp.NewRoundRobin())
	if err := c.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateClosed {
		t.Errorf("expected closed state, got %v", c.State())
	}
	if err := c.Process(ctx, idContainer(t, 0, 1), RoleBoth); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestAccessors(t *testing.T) {
	world, err := channel.NewWorld(4)
	if err != nil {
		t.Fatal(err)
	}
	defer world.Close()

	sources, dests := Range{First: 0, Count: 3}, Range{First: 2, Count: 2}
	tests := []struct {
		rank int
		want Role
	}{
		{0, RoleSource},
		{2, RoleBoth},
		{3, RoleDest},
	}
	for _, tt := range tests {
		c := TestComponent(world.Comm(tt.rank), sources, dests, decomp.NewCount())
		if c.Roles() != tt.want {
			t.Errorf("rank %d: expected %v, got %v", tt.rank, tt.want, c.Roles())
		}
		if c.Sources() != sources || c.Dests() != dests {
			t.Errorf("rank %d: ranges mismatch", tt.rank)
		}
		if c.Strategy().Name() != "count" {
			t.Errorf("rank %d: expected count strategy, got %s", tt.rank, c.Strategy().Name())
		}
		if c.State() != StateIdle {
			t.Errorf("rank %d: expected idle state, got %v", tt.rank, c.State())
		}
	}
}
