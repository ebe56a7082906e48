// Package store holds the shared payloads the sandbox operations act on.
package store

import "sync"

// List is a thread-safe append-only list of integers.
type List struct {
	mu    sync.Mutex
	items []int
}

func NewList() *List {
	return &List{}
}

// Append adds v and returns a copy of the whole list.
func (l *List) Append(v int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, v)
	out := make([]int, len(l.items))
	copy(out, l.items)
	return out
}

// KV is a thread-safe string map.
type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

// Set stores value under key and returns a copy of the whole map.
func (kv *KV) Set(key, value string) map[string]string {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.data[key] = value
	// Return a copy to prevent external mutation of the internal map
	out := make(map[string]string, len(kv.data))
	for k, v := range kv.data {
		out[k] = v
	}
	return out
}

func (kv *KV) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok
}
