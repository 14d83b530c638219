package container

import (
	"fmt"

	"github.com/rbaliyan/redist/payload"
)

// Scalar is a single value. It always counts as one item and is never
// block-splitable.
type Scalar[T Number] struct {
	value T
}

type scalarState[T Number] struct {
	Value T `msgpack:"value" json:"value" bson:"value"`
}

// NewScalar creates a scalar field.
func NewScalar[T Number](v T) *Scalar[T] {
	return &Scalar[T]{value: v}
}

// Value returns the value.
func (s *Scalar[T]) Value() T { return s.value }

// Set replaces the value.
func (s *Scalar[T]) Set(v T) { s.value = v }

func (s *Scalar[T]) Kind() Kind { return KindScalar }

func (s *Scalar[T]) TypeName() string { return scalarTypeName[T]() }

func (s *Scalar[T]) Len() int { return 1 }

func (s *Scalar[T]) Countable() bool { return true }

func (s *Scalar[T]) BlockSplitable() bool { return false }

func (s *Scalar[T]) Clone() Field { return &Scalar[T]{value: s.value} }

func (s *Scalar[T]) CanMerge(other Field) bool {
	_, ok := other.(*Scalar[T])
	return ok
}

// Split copies the value to every destination, or with SplitMinusNbItem
// stores each destination's item count.
func (s *Scalar[T]) Split(r Ranges, _ []*Container, p SplitPolicy) ([]Field, error) {
	n := r.Len()
	out := make([]Field, n)
	switch p {
	case SplitDefault, SplitKeepValue:
		for i := range out {
			out[i] = &Scalar[T]{value: s.value}
		}
	case SplitMinusNbItem:
		for i := range out {
			count := r.ItemCount(i)
			if count < 0 {
				count = 1
			}
			out[i] = &Scalar[T]{value: T(count)}
		}
	default:
		return nil, unsupported(KindScalar, p)
	}
	return out, nil
}

func (s *Scalar[T]) precheck(other Field, _ *MergeContext, p MergePolicy) error {
	o, ok := other.(*Scalar[T])
	if !ok {
		return fmt.Errorf("cannot merge %s into %s", other.TypeName(), s.TypeName())
	}
	switch p {
	case MergeDefault:
		if o.value != s.value {
			return fmt.Errorf("values disagree: %v != %v", s.value, o.value)
		}
		return nil
	case MergeFirstValue, MergeAddValue:
		return nil
	default:
		return unsupported(KindScalar, p)
	}
}

// Merge keeps the current value (verifying equality with MergeDefault) or
// adds the peer's value with MergeAddValue.
func (s *Scalar[T]) Merge(other Field, mc *MergeContext, p MergePolicy) error {
	if err := s.precheck(other, mc, p); err != nil {
		return err
	}
	if p == MergeAddValue {
		s.value += other.(*Scalar[T]).value
	}
	return nil
}

func (s *Scalar[T]) encode(codec payload.Codec) ([]byte, error) {
	return codec.Encode(scalarState[T]{Value: s.value})
}

func decodeScalar[T Number](codec payload.Codec, data []byte) (Field, error) {
	var st scalarState[T]
	if err := codec.Decode(data, &st); err != nil {
		return nil, err
	}
	return &Scalar[T]{value: st.Value}, nil
}

func scalarTypeName[T Number]() string {
	var zero T
	return fmt.Sprintf("scalar<%T>", zero)
}

var _ Field = (*Scalar[int])(nil)
