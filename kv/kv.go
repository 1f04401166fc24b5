// Package kv holds the generic in-memory key/value stores backing the entity
// caches.
package kv

type KVS[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Range(func(key K, value V) bool)
	Len() int
	Clear()
}
