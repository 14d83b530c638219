package payload

import "go.mongodb.org/mongo-driver/bson"

// BSON implements Codec using BSON serialization.
// Values must encode as documents (structs or maps), which holds for
// containers and field states.
type BSON struct{}

// Encode serializes the payload to BSON bytes.
func (BSON) Encode(v any) ([]byte, error) {
	return bson.Marshal(v)
}

// Decode deserializes BSON bytes to the target type.
func (BSON) Decode(data []byte, v any) error {
	return bson.Unmarshal(data, v)
}

// ContentType returns the MIME type for BSON.
func (BSON) ContentType() string {
	return "application/bson"
}

// Compile-time check.
var _ Codec = BSON{}

func init() {
	Register(BSON{})
}
