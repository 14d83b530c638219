package container

import (
	"errors"
	"fmt"
)

type wireContainer struct {
	Fields     []wireEntry `msgpack:"fields" json:"fields" bson:"fields"`
	SplitOrder []string    `msgpack:"split_order,omitempty" json:"split_order,omitempty" bson:"split_order,omitempty"`
	MergeOrder []string    `msgpack:"merge_order,omitempty" json:"merge_order,omitempty" bson:"merge_order,omitempty"`
}

type wireEntry struct {
	Name  string      `msgpack:"name" json:"name" bson:"name"`
	Type  string      `msgpack:"type" json:"type" bson:"type"`
	Scope Scope       `msgpack:"scope" json:"scope" bson:"scope"`
	Flag  Flag        `msgpack:"flag,omitempty" json:"flag,omitempty" bson:"flag,omitempty"`
	Split SplitPolicy `msgpack:"split,omitempty" json:"split,omitempty" bson:"split,omitempty"`
	Merge MergePolicy `msgpack:"merge,omitempty" json:"merge,omitempty" bson:"merge,omitempty"`
	Data  []byte      `msgpack:"data" json:"data" bson:"data"`
}

// Serialize encodes the fields, their policies and the split and merge
// orders with the container codec. Queued containers are not included.
func (c *Container) Serialize() ([]byte, error) {
	w := wireContainer{SplitOrder: c.splitOrder, MergeOrder: c.mergeOrder}
	for _, e := range c.list() {
		data, err := e.field.encode(c.codec)
		if err != nil {
			return nil, errors.Join(ErrEncodeFailure, fmt.Errorf("field %q: %w", e.name, err))
		}
		w.Fields = append(w.Fields, wireEntry{
			Name:  e.name,
			Type:  e.field.TypeName(),
			Scope: e.scope,
			Flag:  e.flag,
			Split: e.split,
			Merge: e.merge,
			Data:  data,
		})
	}
	data, err := c.codec.Encode(w)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Unserialize decodes a container produced by Serialize. Empty data yields
// an empty container. Private fields that disagree on the item count are
// reported as a CountMismatchError.
func Unserialize(data []byte, opts ...Option) (*Container, error) {
	c := New(opts...)
	if len(data) == 0 {
		return c, nil
	}

	var w wireContainer
	if err := c.codec.Decode(data, &w); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	for _, we := range w.Fields {
		if _, ok := c.entries[we.Name]; ok {
			return nil, errors.Join(ErrDecodeFailure, fmt.Errorf("%w: %q", ErrFieldExists, we.Name))
		}
		f, err := decodeField(c.codec, we.Type, we.Data)
		if err != nil {
			return nil, errors.Join(ErrDecodeFailure, fmt.Errorf("field %q: %w", we.Name, err))
		}
		before := c.meta.NbItems
		c.insert(&entry{name: we.Name, field: f, scope: we.Scope, flag: we.Flag, split: we.Split, merge: we.Merge})
		c.refresh()
		if !c.meta.PartiallyCountable {
			return nil, errors.Join(ErrDecodeFailure, &CountMismatchError{Field: we.Name, Expected: before, Got: f.Len()})
		}
	}
	if len(w.SplitOrder) > 0 {
		if err := c.SetSplitOrder(w.SplitOrder...); err != nil {
			return nil, errors.Join(ErrDecodeFailure, err)
		}
	}
	if len(w.MergeOrder) > 0 {
		if err := c.SetMergeOrder(w.MergeOrder...); err != nil {
			return nil, errors.Join(ErrDecodeFailure, err)
		}
	}
	return c, nil
}

// Decode unserializes data with the receiver's codec and logger.
func (c *Container) Decode(data []byte) (*Container, error) {
	return Unserialize(data, WithCodec(c.codec), WithLogger(c.logger))
}

// MergeBytes decodes a serialized container and merges it.
func (c *Container) MergeBytes(data []byte) error {
	other, err := c.Decode(data)
	if err != nil {
		return err
	}
	return c.Merge(other)
}

// StoreBytes decodes a serialized container and queues it for MergeStored.
func (c *Container) StoreBytes(data []byte) error {
	other, err := c.Decode(data)
	if err != nil {
		return err
	}
	c.Store(other)
	return nil
}
