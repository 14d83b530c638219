package payload

import (
	"sort"
	"sync"
)

var (
	mu       sync.RWMutex
	registry = map[string]Codec{
		"application/msgpack": MsgPack{},
		"application/json":    JSON{},
	}
	aliases = map[string]string{
		"msgpack": "application/msgpack",
		"json":    "application/json",
		"bson":    "application/bson",
	}
)

// Register adds a codec to the global registry.
// Codecs are looked up by their ContentType() when decoding packed payloads.
func Register(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[codec.ContentType()] = codec
}

// Get retrieves a codec by content type or short name ("msgpack", "json", "bson").
// Returns the codec and true if found, or nil and false if not found.
func Get(name string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if ct, ok := aliases[name]; ok {
		name = ct
	}
	c, ok := registry[name]
	return c, ok
}

// MustGet retrieves a codec by content type, returning the default MessagePack
// codec if the requested content type is not found.
func MustGet(name string) Codec {
	if c, ok := Get(name); ok {
		return c
	}
	return MsgPack{}
}

// Names returns the registered content types in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
