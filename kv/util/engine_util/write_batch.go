package engine_util

// Entry is one mutation of a WriteBatch. Key already carries its CF prefix.
type Entry struct {
	CF     string
	Key    []byte
	Value  []byte
	Delete bool
}

// RawKey is the key without its CF prefix.
func (e *Entry) RawKey() []byte {
	return e.Key[len(e.CF)+1:]
}

// WriteBatch collects mutations that an engine applies atomically.
type WriteBatch struct {
	entries       []*Entry
	size          int
	safePoint     int
	safePointSize int
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) Entries() []*Entry {
	return wb.entries
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, &Entry{
		CF:    cf,
		Key:   KeyWithCF(cf, key),
		Value: val,
	})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, &Entry{
		CF:     cf,
		Key:    KeyWithCF(cf, key),
		Delete: true,
	})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
	wb.size = wb.safePointSize
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}
