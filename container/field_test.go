package container

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

func TestSplitPolicyGrid(t *testing.T) {
	fields := map[Kind]func() Field{
		KindScalar: func() Field { return NewScalar(int32(3)) },
		KindArray:  func() Field { return NewArray(ramp(4), 1) },
		KindBlock:  func() Field { return NewBlockField(Block{Gridspace: 1}) },
	}
	supported := map[Kind]map[SplitPolicy]bool{
		KindScalar: {SplitDefault: true, SplitKeepValue: true, SplitMinusNbItem: true},
		KindArray:  {SplitDefault: true, SplitKeepValue: true, SplitSegmented: true},
		KindBlock:  {SplitDefault: true, SplitKeepValue: true},
	}
	policies := []SplitPolicy{SplitDefault, SplitKeepValue, SplitMinusNbItem, SplitSegmented}

	for kind, build := range fields {
		for _, p := range policies {
			t.Run(fmt.Sprintf("%s/%s", kind, p), func(t *testing.T) {
				parts, err := build().Split(CountRanges(1, 3), nil, p)
				if !supported[kind][p] {
					if !errors.Is(err, ErrUnsupportedPolicy) {
						t.Errorf("expected ErrUnsupportedPolicy, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Split failed: %v", err)
				}
				if len(parts) != 2 {
					t.Errorf("expected 2 parts, got %d", len(parts))
				}
			})
		}
	}
}

func TestMergePolicyGrid(t *testing.T) {
	fields := map[Kind]func() Field{
		KindScalar: func() Field { return NewScalar(int32(3)) },
		KindArray:  func() Field { return NewArray([]float32{0, 0, 0, 1, 1, 1}, 1) },
		KindBlock:  func() Field { return NewBlockField(Block{Gridspace: 1}) },
	}
	supported := map[Kind]map[MergePolicy]bool{
		KindScalar: {MergeDefault: true, MergeFirstValue: true, MergeAddValue: true},
		KindArray:  {MergeDefault: true, MergeAppendValues: true, MergeBBoxPos: true},
		KindBlock:  {MergeDefault: true, MergeFirstValue: true},
	}
	policies := []MergePolicy{MergeDefault, MergeFirstValue, MergeAddValue, MergeAppendValues, MergeBBoxPos}

	for kind, build := range fields {
		for _, p := range policies {
			t.Run(fmt.Sprintf("%s/%s", kind, p), func(t *testing.T) {
				err := build().Merge(build(), NewMergeContext(New()), p)
				if !supported[kind][p] {
					if !errors.Is(err, ErrUnsupportedPolicy) {
						t.Errorf("expected ErrUnsupportedPolicy, got %v", err)
					}
					return
				}
				if err != nil {
					t.Errorf("Merge failed: %v", err)
				}
			})
		}
	}
}

func TestScalarPolicies(t *testing.T) {
	s := NewScalar(10)
	parts, err := s.Split(CountRanges(2, 5, 0), nil, SplitMinusNbItem)
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for _, p := range parts {
		got = append(got, p.(*Scalar[int]).Value())
	}
	if diff := cmp.Diff([]int{2, 5, 0}, got); diff != "" {
		t.Errorf("item counts mismatch (-want +got):\n%s", diff)
	}

	parts, err = s.Split(BlockRanges(Block{}, Block{}), nil, SplitMinusNbItem)
	if err != nil {
		t.Fatal(err)
	}
	if parts[0].(*Scalar[int]).Value() != 1 {
		t.Error("unknown block counts should default to 1")
	}

	first := NewScalar(1)
	if err := first.Merge(NewScalar(9), nil, MergeFirstValue); err != nil {
		t.Fatal(err)
	}
	if first.Value() != 1 {
		t.Errorf("first value should be kept, got %d", first.Value())
	}
}

func TestArrayPolicies(t *testing.T) {
	t.Run("keep value", func(t *testing.T) {
		a := NewArray(ramp(3), 1)
		parts, err := a.Split(CountRanges(0, 3), nil, SplitKeepValue)
		if err != nil {
			t.Fatal(err)
		}
		for i, p := range parts {
			if diff := cmp.Diff(ramp(3), p.(*Array[int32]).Values()); diff != "" {
				t.Errorf("part %d mismatch (-want +got):\n%s", i, diff)
			}
		}
	})

	t.Run("segmented rejects index lists", func(t *testing.T) {
		a := NewArray(ramp(3), 1)
		var l IndexList
		l.Add(0)
		l.Add(1)
		l.Add(2)
		if _, err := a.Split(IndexRanges(l.Ranges()), nil, SplitSegmented); !errors.Is(err, ErrUnsupportedPolicy) {
			t.Errorf("expected ErrUnsupportedPolicy, got %v", err)
		}
	})

	t.Run("per item grouping", func(t *testing.T) {
		a := NewArray([]float64{1, 2, 3, 4, 5, 6}, 2)
		if a.Len() != 3 {
			t.Fatalf("expected 3 items, got %d", a.Len())
		}
		parts, err := a.Split(CountRanges(1, 2), nil, SplitDefault)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float64{3, 4, 5, 6}, parts[1].(*Array[float64]).Values()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float64{5, 6}, a.Item(2)); diff != "" {
			t.Errorf("item mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("per item must match", func(t *testing.T) {
		a := NewArray([]float64{1, 2}, 2)
		if a.CanMerge(NewArray([]float64{1, 2}, 1)) {
			t.Error("arrays with different grouping should not merge")
		}
	})

	t.Run("bbox", func(t *testing.T) {
		a := NewArray([]float32{0, 0, 0, 1, 1, 1}, 1)
		b := NewArray([]float32{-1, 0, 0.5, 0.5, 2, 1}, 1)
		if err := a.Merge(b, nil, MergeBBoxPos); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float32{-1, 0, 0, 1, 2, 1}, a.Values()); diff != "" {
			t.Errorf("bbox mismatch (-want +got):\n%s", diff)
		}
		if err := a.Merge(NewArray([]float32{1, 2}, 1), nil, MergeBBoxPos); err == nil {
			t.Error("expected an error for a short box")
		}
	})
}

func TestBlock(t *testing.T) {
	t.Run("union", func(t *testing.T) {
		a := Block{LocalBBox: []float32{0, 0, 0, 2, 2, 2}, LocalExtents: []uint32{0, 0, 0, 2, 2, 2}}
		b := Block{LocalBBox: []float32{1, -1, 0, 3, 1, 1}, LocalExtents: []uint32{1, 3, 0, 3, 1, 1}}
		u := a.Union(b)
		if diff := cmp.Diff([]float32{0, -1, 0, 4, 3, 2}, u.LocalBBox); diff != "" {
			t.Errorf("box mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]uint32{0, 0, 0, 4, 4, 2}, u.LocalExtents); diff != "" {
			t.Errorf("extents mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{0, 0, 0, 2, 2, 2}, a.LocalBBox); diff != "" {
			t.Errorf("union modified the receiver (-want +got):\n%s", diff)
		}
	})

	t.Run("extents", func(t *testing.T) {
		b := Block{Gridspace: 0.5, GlobalBBox: []float32{0, 0, 0, 10, 4.2, 1}}
		if !b.UpdateExtents() {
			t.Fatal("UpdateExtents failed")
		}
		if diff := cmp.Diff([]uint32{0, 0, 0, 20, 9, 2}, b.GlobalExtents); diff != "" {
			t.Errorf("extents mismatch (-want +got):\n%s", diff)
		}
		if (&Block{}).UpdateExtents() {
			t.Error("UpdateExtents without gridspace should fail")
		}
	})

	t.Run("membership", func(t *testing.T) {
		b := Block{
			LocalBBox:    []float32{0, 0, 0, 1, 1, 1},
			LocalExtents: []uint32{0, 0, 0, 4, 4, 4},
		}
		if !b.InLocalBox(1, 1, 1) {
			t.Error("upper bound of the box is included")
		}
		if b.InLocalExtents(4, 0, 0) {
			t.Error("upper bound of the extents is excluded")
		}
		if (Block{}).InLocalBox(0, 0, 0) {
			t.Error("unset box contains nothing")
		}
	})

	t.Run("merge", func(t *testing.T) {
		f := NewBlockField(Block{LocalBBox: []float32{0, 0, 0, 1, 1, 1}})
		g := NewBlockField(Block{LocalBBox: []float32{1, 0, 0, 1, 1, 1}})
		if err := f.Merge(g, nil, MergeFirstValue); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float32{0, 0, 0, 1, 1, 1}, f.Value().LocalBBox); diff != "" {
			t.Errorf("first value not kept (-want +got):\n%s", diff)
		}
		if err := f.Merge(g, nil, MergeDefault); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float32{0, 0, 0, 2, 1, 1}, f.Value().LocalBBox); diff != "" {
			t.Errorf("union mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMorton(t *testing.T) {
	if EncodeMorton(1, 0, 0) != 1 || EncodeMorton(0, 1, 0) != 2 || EncodeMorton(0, 0, 1) != 4 {
		t.Error("unexpected bit interleaving")
	}
	if EncodeMorton(1023, 1023, 1023) != 1<<30-1 {
		t.Errorf("unexpected maximum code %d", EncodeMorton(1023, 1023, 1023))
	}
	for i := 0; i < 100; i++ {
		x := uint32(faker.RandomInt(0, 1023))
		y := uint32(faker.RandomInt(0, 1023))
		z := uint32(faker.RandomInt(0, 1023))
		gx, gy, gz := DecodeMorton(EncodeMorton(x, y, z))
		if gx != x || gy != y || gz != z {
			t.Fatalf("round trip of (%d, %d, %d) gave (%d, %d, %d)", x, y, z, gx, gy, gz)
		}
	}
}

func TestIndexList(t *testing.T) {
	var l IndexList
	for _, i := range []int{0, 1, 2, 5, 7, 8} {
		l.Add(i)
	}
	want := []int{0, 3, 5, 1, 7, 2, 6}
	if diff := cmp.Diff(want, l.Ranges()); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	if err := ValidateIndexList(want); err != nil {
		t.Errorf("valid list rejected: %v", err)
	}
	if err := ValidateIndexList([]int{0, 3, 5}); !errors.Is(err, ErrInvalidRanges) {
		t.Errorf("expected ErrInvalidRanges for a wrong total, got %v", err)
	}
	if diff := cmp.Diff(map[int]int{5: 0, 7: 1, 8: 2}, localIndexes([]int{5, 1, 7, 2, 3})); diff != "" {
		t.Errorf("local indexes mismatch (-want +got):\n%s", diff)
	}
}
