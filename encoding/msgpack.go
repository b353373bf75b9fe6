// Package encoding provides centralized msgpack serialization for state that
// the arbiter persists outside of the wire protocol (oracle caches, local
// snapshots). The mesh wire messages have their own byte-exact codec in the
// wire package; this package is for ancillary local state only.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v interface{}) error {
	return msgpack.NewDecoder(bytes.NewReader(data)).Decode(v)
}
