package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Bucket is a component's isolated key space. Records are RLP encoded.
type Bucket struct {
	prefix []byte
}

// NewBucket returns the key space called name. Names must not be prefixes
// of one another.
func NewBucket(name string) Bucket {
	return Bucket{prefix: []byte(name + "/")}
}

func (b Bucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

// Get decodes the record stored under key into out and reports whether it
// exists.
func (b Bucket) Get(ctx context.Context, key []byte, out any) (bool, error) {
	u, err := mustUnit(ctx)
	if err != nil {
		return false, err
	}
	raw, ok, err := u.get(b.key(key))
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", b.key(key), err)
	}
	return true, nil
}

// Has reports whether a record is stored under key.
func (b Bucket) Has(ctx context.Context, key []byte) (bool, error) {
	u, err := mustUnit(ctx)
	if err != nil {
		return false, err
	}
	_, ok, err := u.get(b.key(key))
	return ok, err
}

// Put stores v under key.
func (b Bucket) Put(ctx context.Context, key []byte, v any) error {
	u, err := mustUnit(ctx)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", b.key(key), err)
	}
	return u.put(b.key(key), raw)
}

// Delete removes the record under key. Deleting a missing key is not an error.
func (b Bucket) Delete(ctx context.Context, key []byte) error {
	u, err := mustUnit(ctx)
	if err != nil {
		return err
	}
	return u.delete(b.key(key))
}

// Keys lists, in byte order, the keys of the bucket starting with prefix.
// Returned keys do not include the bucket name.
func (b Bucket) Keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	u, err := mustUnit(ctx)
	if err != nil {
		return nil, err
	}
	full, err := u.keys(b.key(prefix))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(full))
	for i, k := range full {
		out[i] = bytes.TrimPrefix(k, b.prefix)
	}
	return out, nil
}
