package container

import (
	"fmt"
	"sync"

	"github.com/rbaliyan/redist/payload"
)

type decoder func(codec payload.Codec, data []byte) (Field, error)

var (
	decMu    sync.RWMutex
	decoders = map[string]decoder{
		"block": decodeBlock,
	}
)

// RegisterScalar makes Scalar[T] decodable. Built-in numeric types are
// registered already; named types must be registered by their owner.
func RegisterScalar[T Number]() {
	register(scalarTypeName[T](), decodeScalar[T])
}

// RegisterArray makes Array[T] decodable.
func RegisterArray[T Number]() {
	register(arrayTypeName[T](), decodeArray[T])
}

func register(name string, d decoder) {
	decMu.Lock()
	defer decMu.Unlock()
	decoders[name] = d
}

func decodeField(codec payload.Codec, typeName string, data []byte) (Field, error) {
	decMu.RLock()
	d, ok := decoders[typeName]
	decMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return d(codec, data)
}

func registerNumeric[T Number]() {
	RegisterScalar[T]()
	RegisterArray[T]()
}

func init() {
	registerNumeric[int]()
	registerNumeric[int8]()
	registerNumeric[int16]()
	registerNumeric[int32]()
	registerNumeric[int64]()
	registerNumeric[uint]()
	registerNumeric[uint8]()
	registerNumeric[uint16]()
	registerNumeric[uint32]()
	registerNumeric[uint64]()
	registerNumeric[float32]()
	registerNumeric[float64]()
}
