package store

// Bucket prefixes every key before handing it to the underlying KV.
type Bucket struct {
	kv     KV
	prefix []byte
}

// NewBucket returns kv scoped to prefix.
func NewBucket(kv KV, prefix []byte) Bucket {
	return Bucket{kv: kv, prefix: prefix}
}

func (b Bucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	return append(append(out, b.prefix...), k...)
}

func (b Bucket) Has(key []byte) (bool, error)   { return b.kv.Has(b.key(key)) }
func (b Bucket) Get(key []byte) ([]byte, error) { return b.kv.Get(b.key(key)) }
func (b Bucket) Put(key, value []byte) error    { return b.kv.Put(b.key(key), value) }
func (b Bucket) Delete(key []byte) error        { return b.kv.Delete(b.key(key)) }
