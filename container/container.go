package container

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/rbaliyan/redist/payload"
)

// Container is an ordered collection of named fields describing one rank's
// share of a distributed data set. It splits into per-destination
// containers and merges peers back, field by field, according to each
// field's policies.
//
// A Container is not safe for concurrent use.
type Container struct {
	entries    map[string]*entry
	names      []string
	splitOrder []string
	mergeOrder []string
	meta       Metadata
	stored     []*Container

	codec  payload.Codec
	logger *slog.Logger
}

type entry struct {
	name  string
	field Field
	scope Scope
	flag  Flag
	split SplitPolicy
	merge MergePolicy
}

// Entry is a read-only view of a field and its policies.
type Entry struct {
	Name  string
	Field Field
	Scope Scope
	Flag  Flag
	Split SplitPolicy
	Merge MergePolicy
}

// New creates an empty container.
func New(opts ...Option) *Container {
	o := newOptions(opts...)
	c := &Container{
		entries: make(map[string]*entry),
		codec:   o.codec,
		logger:  o.logger,
	}
	c.refresh()
	return c
}

// child creates an empty container sharing the codec and logger.
func (c *Container) child() *Container {
	return New(WithCodec(c.codec), WithLogger(c.logger))
}

// Codec returns the payload codec.
func (c *Container) Codec() payload.Codec {
	return c.codec
}

// Append adds a field. Without flags the field carries NoFlag.
//
// A Private field whose item count disagrees with the container is rolled
// back and reported as a CountMismatchError. Appending clears any split or
// merge order.
func (c *Container) Append(name string, f Field, scope Scope, split SplitPolicy, merge MergePolicy, flags ...Flag) error {
	if f == nil {
		return fmt.Errorf("%w: %q", ErrNilField, name)
	}
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrFieldExists, name)
	}
	var flag Flag
	for _, fl := range flags {
		flag |= fl
	}

	before := c.meta.NbItems
	c.insert(&entry{name: name, field: f, scope: scope, flag: flag, split: split, merge: merge})
	c.refresh()
	if !c.meta.PartiallyCountable {
		c.drop(name)
		c.refresh()
		c.logger.Warn("field rolled back", "field", name, "items", f.Len(), "expected", before)
		return &CountMismatchError{Field: name, Expected: before, Got: f.Len()}
	}
	c.clearOrders()
	return nil
}

func (c *Container) insert(e *entry) {
	c.entries[e.name] = e
	c.names = append(c.names, e.name)
}

func (c *Container) drop(name string) {
	delete(c.entries, name)
	c.names = slices.DeleteFunc(c.names, func(n string) bool { return n == name })
}

func (c *Container) refresh() {
	c.meta = computeMetadata(c.list())
}

func (c *Container) list() []*entry {
	out := make([]*entry, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.entries[name])
	}
	return out
}

func (c *Container) clearOrders() {
	if c.splitOrder != nil || c.mergeOrder != nil {
		c.logger.Debug("split and merge orders cleared")
	}
	c.splitOrder = nil
	c.mergeOrder = nil
}

// Get returns the field called name.
func (c *Container) Get(name string) (Field, bool) {
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return e.field, true
}

// FieldAs returns the field called name as F.
func FieldAs[F Field](c *Container, name string) (F, bool) {
	var zero F
	f, ok := c.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := f.(F)
	return t, ok
}

// Entry returns the field called name with its policies.
func (c *Container) Entry(name string) (Entry, bool) {
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, false
	}
	return e.view(), true
}

// Entries returns all fields in insertion order.
func (c *Container) Entries() []Entry {
	out := make([]Entry, 0, len(c.names))
	for _, e := range c.list() {
		out = append(out, e.view())
	}
	return out
}

func (e *entry) view() Entry {
	return Entry{Name: e.name, Field: e.field, Scope: e.scope, Flag: e.flag, Split: e.split, Merge: e.merge}
}

// Names returns the field names in insertion order.
func (c *Container) Names() []string {
	return slices.Clone(c.names)
}

// Remove deletes the field called name and reports whether it existed.
// Removing clears any split or merge order.
func (c *Container) Remove(name string) bool {
	if _, ok := c.entries[name]; !ok {
		return false
	}
	c.drop(name)
	c.refresh()
	c.clearOrders()
	return true
}

// Update replaces the value of an existing field, keeping its policies. A
// value that breaks the item count agreement is rolled back.
func (c *Container) Update(name string, f Field) error {
	if f == nil {
		return fmt.Errorf("%w: %q", ErrNilField, name)
	}
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrFieldNotFound, name)
	}
	old, before := e.field, c.meta.NbItems
	e.field = f
	c.refresh()
	if !c.meta.PartiallyCountable {
		e.field = old
		c.refresh()
		c.logger.Warn("field update rolled back", "field", name, "items", f.Len(), "expected", before)
		return &CountMismatchError{Field: name, Expected: before, Got: f.Len()}
	}
	return nil
}

// Len returns the number of items.
func (c *Container) Len() int { return c.meta.NbItems }

// FieldCount returns the number of fields, System ones included.
func (c *Container) FieldCount() int { return len(c.entries) }

// Empty reports whether the container holds no non-System field.
func (c *Container) Empty() bool { return c.meta.Empty }

// Countable reports whether the item count is meaningful for layout
// arithmetic.
func (c *Container) Countable() bool { return c.meta.Countable }

// PartiallyCountable reports whether the Private fields agree on the item
// count.
func (c *Container) PartiallyCountable() bool { return c.meta.PartiallyCountable }

// Metadata returns a snapshot of the container properties.
func (c *Container) Metadata() Metadata { return c.meta }

// SetSplitOrder fixes the sequence fields are split in. It must list every
// field exactly once.
func (c *Container) SetSplitOrder(names ...string) error {
	if err := c.checkOrder(names); err != nil {
		return err
	}
	c.splitOrder = slices.Clone(names)
	return nil
}

// SetMergeOrder fixes the sequence fields are merged in. It must list every
// field exactly once.
func (c *Container) SetMergeOrder(names ...string) error {
	if err := c.checkOrder(names); err != nil {
		return err
	}
	c.mergeOrder = slices.Clone(names)
	return nil
}

// SplitOrder returns the split sequence, nil when unset.
func (c *Container) SplitOrder() []string { return slices.Clone(c.splitOrder) }

// MergeOrder returns the merge sequence, nil when unset.
func (c *Container) MergeOrder() []string { return slices.Clone(c.mergeOrder) }

func (c *Container) checkOrder(names []string) error {
	if len(names) != len(c.entries) {
		return fmt.Errorf("%w: %d names for %d fields", ErrInvalidOrder, len(names), len(c.entries))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.entries[n]; !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidOrder, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidOrder, n)
		}
		seen[n] = true
	}
	return nil
}

func (c *Container) splitSequence() []string {
	if c.splitOrder != nil {
		return c.splitOrder
	}
	return c.names
}

func (c *Container) mergeSequence() []string {
	if c.mergeOrder != nil {
		return c.mergeOrder
	}
	return c.names
}

// Split cuts the container into r.Len() containers, one per destination.
// System fields are copied to every destination unchanged. With block
// ranges and no index lists, the lists for fields that cannot split by
// blocks are derived from the position or Morton key.
//
// The receiver is left untouched.
func (c *Container) Split(r Ranges) ([]*Container, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	n := r.Len()
	if n == 0 {
		return nil, nil
	}
	if !c.meta.PartiallyCountable {
		return nil, &CountMismatchError{Field: c.meta.Conflict, Expected: c.meta.NbItems, Got: -1}
	}
	if r.Blocks != nil && r.Indexes == nil && c.needsIndexes() {
		lists, err := c.IndexesFromBlocks(r.Blocks)
		if err != nil {
			return nil, err
		}
		r.Indexes = lists
	}
	if total := r.Total(); total >= 0 && total != c.meta.NbItems {
		return nil, &CountMismatchError{Expected: c.meta.NbItems, Got: total}
	}

	out := make([]*Container, n)
	for i := range out {
		out[i] = c.child()
	}
	for _, name := range c.splitSequence() {
		e := c.entries[name]
		if e.scope == System {
			continue
		}
		fr := r
		if r.Blocks != nil && !e.field.BlockSplitable() {
			fr = Ranges{Indexes: r.Indexes}
		}
		parts, err := e.field.Split(fr, out, e.split)
		if err != nil {
			return nil, fmt.Errorf("split field %q: %w", name, err)
		}
		if len(parts) != n {
			return nil, fmt.Errorf("split field %q: %d parts for %d destinations", name, len(parts), n)
		}
		for i, p := range parts {
			out[i].insert(&entry{name: name, field: p, scope: e.scope, flag: e.flag, split: e.split, merge: e.merge})
		}
	}
	for _, o := range out {
		o.CopySystemFields(c)
		o.names = slices.Clone(c.names)
		o.splitOrder = slices.Clone(c.splitOrder)
		o.mergeOrder = slices.Clone(c.mergeOrder)
		o.refresh()
	}
	return out, nil
}

func (c *Container) needsIndexes() bool {
	for _, e := range c.entries {
		if e.scope != System && !e.field.BlockSplitable() {
			return true
		}
	}
	return false
}

// CopySystemFields copies the System fields of src that the receiver lacks.
func (c *Container) CopySystemFields(src *Container) {
	for _, name := range src.names {
		e := src.entries[name]
		if e.scope != System {
			continue
		}
		if _, ok := c.entries[name]; ok {
			continue
		}
		cp := *e
		cp.field = e.field.Clone()
		c.insert(&cp)
	}
	c.refresh()
}

// Merge folds other into the receiver. An empty receiver adopts other's
// fields, and other must not be used afterwards. Merging an empty
// container is a no-op.
//
// Both containers must hold the same field names with compatible types and
// policies; on violation a ContractError is returned and the receiver is
// unchanged.
func (c *Container) Merge(other *Container) error {
	if other == nil || len(other.entries) == 0 {
		return nil
	}
	if len(c.entries) == 0 {
		if err := other.checkCounts(); err != nil {
			return err
		}
		c.adopt(other)
		return nil
	}

	mc := NewMergeContext(c)
	if err := c.checkMergeable(other, mc); err != nil {
		return err
	}
	for _, name := range c.mergeSequence() {
		e := c.entries[name]
		if err := e.field.Merge(other.entries[name].field, mc, e.merge); err != nil {
			return &ContractError{Field: name, Err: err}
		}
	}
	c.refresh()
	return nil
}

func (c *Container) adopt(other *Container) {
	c.entries = other.entries
	c.names = other.names
	c.splitOrder = other.splitOrder
	c.mergeOrder = other.mergeOrder
	c.refresh()

	other.entries = make(map[string]*entry)
	other.names = nil
	other.splitOrder = nil
	other.mergeOrder = nil
	other.refresh()
}

// checkCounts reports Private fields that disagree on the item count.
func (c *Container) checkCounts() error {
	if c.meta.PartiallyCountable {
		return nil
	}
	name := c.meta.Conflict
	return &ContractError{Field: name, Err: &CountMismatchError{Field: name, Expected: c.meta.NbItems, Got: c.entries[name].field.Len()}}
}

func (c *Container) checkMergeable(other *Container, mc *MergeContext) error {
	if err := other.checkCounts(); err != nil {
		return err
	}
	for _, name := range c.names {
		if _, ok := other.entries[name]; !ok {
			return &ContractError{Field: name, Reason: "missing in peer"}
		}
	}
	for _, name := range other.names {
		if _, ok := c.entries[name]; !ok {
			return &ContractError{Field: name, Reason: "unknown to receiver"}
		}
	}
	for _, name := range c.names {
		e, oe := c.entries[name], other.entries[name]
		if !e.field.CanMerge(oe.field) {
			return &ContractError{Field: name, Reason: fmt.Sprintf("incompatible types %s and %s", e.field.TypeName(), oe.field.TypeName())}
		}
		if e.scope != oe.scope {
			return &ContractError{Field: name, Reason: fmt.Sprintf("scope differs: %s != %s", e.scope, oe.scope)}
		}
	}
	for _, name := range c.names {
		e := c.entries[name]
		if err := e.field.precheck(other.entries[name].field, mc, e.merge); err != nil {
			return &ContractError{Field: name, Err: err}
		}
	}
	return nil
}

// Store queues other for MergeStored. Empty containers are ignored.
func (c *Container) Store(other *Container) {
	if other == nil || len(other.entries) == 0 {
		return
	}
	c.stored = append(c.stored, other)
}

// Stored returns the number of queued containers.
func (c *Container) Stored() int { return len(c.stored) }

// MergeStored folds every queued container in one pass: each field is
// merged with all parts before moving on to the next field. The queue is
// emptied whatever the outcome; on error the receiver is unchanged.
func (c *Container) MergeStored() error {
	parts := c.stored
	c.stored = nil
	if len(parts) == 0 {
		return nil
	}

	// Adopting the first part is undone on error.
	adopted := false
	if len(c.entries) == 0 {
		if err := parts[0].checkCounts(); err != nil {
			return fmt.Errorf("stored part 0: %w", err)
		}
		c.adopt(parts[0])
		parts = parts[1:]
		adopted = true
	}
	if len(parts) == 0 {
		return nil
	}

	mc := NewMergeContext(c)
	for k, p := range parts {
		if err := c.checkMergeable(p, mc); err != nil {
			if adopted {
				c.Purge()
			}
			return fmt.Errorf("stored part %d: %w", k, err)
		}
	}
	for _, name := range c.mergeSequence() {
		e := c.entries[name]
		for k, p := range parts {
			mc.prior = parts[:k]
			if err := e.field.Merge(p.entries[name].field, mc, e.merge); err != nil {
				return &ContractError{Field: name, Err: err}
			}
		}
	}
	c.refresh()
	return nil
}

// Purge removes every field and queued container.
func (c *Container) Purge() {
	c.entries = make(map[string]*entry)
	c.names = nil
	c.splitOrder = nil
	c.mergeOrder = nil
	c.stored = nil
	c.refresh()
}

// Clone returns a deep copy without the queued containers.
func (c *Container) Clone() *Container {
	out := c.child()
	for _, e := range c.list() {
		cp := *e
		cp.field = e.field.Clone()
		out.insert(&cp)
	}
	out.splitOrder = slices.Clone(c.splitOrder)
	out.mergeOrder = slices.Clone(c.mergeOrder)
	out.refresh()
	return out
}
