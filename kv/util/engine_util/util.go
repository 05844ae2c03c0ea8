package engine_util

import (
	"bytes"
)

// KeyWithCF namespaces key under cf. Engines without native column families store every CF in one keyspace.
func KeyWithCF(cf string, key []byte) []byte {
	return append([]byte(cf+"_"), key...)
}

// CFPrefix is the prefix shared by every key of cf.
func CFPrefix(cf string) []byte {
	return []byte(cf + "_")
}

// CFUpperBound is the smallest key greater than every key of cf.
func CFUpperBound(cf string) []byte {
	prefix := CFPrefix(cf)
	prefix[len(prefix)-1]++
	return prefix
}

func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}

// SafeCopy copies src into dst, growing dst when needed.
func SafeCopy(dst, src []byte) []byte {
	return append(dst[:0], src...)
}
