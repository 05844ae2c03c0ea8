package engine_util

type DBIterator interface {
	// Item returns pointer to the current key-value pair.
	Item() DBItem
	// Valid returns false when iteration is done.
	Valid() bool
	// Next would advance the iterator by one. Always check it.Valid() after a Next()
	// to ensure you have access to a valid it.Item().
	Next()
	// Seek would seek to the provided key if present. If absent, it would seek to the next smallest key
	// greater than provided.
	Seek([]byte)

	// Close the iterator
	Close()
}

type DBItem interface {
	// Key returns the key.
	Key() []byte
	// KeyCopy returns a copy of the key of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	KeyCopy(dst []byte) []byte
	// Value retrieves the value of the item.
	Value() ([]byte, error)
	// ValueSize returns the size of the value.
	ValueSize() int
	// ValueCopy returns a copy of the value of the item, writing it to dst slice.
	ValueCopy(dst []byte) ([]byte, error)
}

// KVItem is a DBItem over a key and value already held in memory.
type KVItem struct {
	key   []byte
	value []byte
}

func NewKVItem(key, value []byte) *KVItem {
	return &KVItem{key: key, value: value}
}

func (i *KVItem) Key() []byte {
	return i.key
}

func (i *KVItem) KeyCopy(dst []byte) []byte {
	return SafeCopy(dst, i.key)
}

func (i *KVItem) Value() ([]byte, error) {
	return i.value, nil
}

func (i *KVItem) ValueSize() int {
	return len(i.value)
}

func (i *KVItem) ValueCopy(dst []byte) ([]byte, error) {
	return SafeCopy(dst, i.value), nil
}
