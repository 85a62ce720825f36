// Package storage abstracts the simple key-value services the authenticator core
// persists into. Two tiers are expected by callers: a "secure" tier (hardware backed or
// encrypted, see the boltdb subpackage) and a "fast" tier for non sensitive flags.
package storage

import (
	"sync"
)

// Store is a minimal atomic key-value service with string and integer values.
//
// Writes are last-writer-wins per key; Store implementations provide no transaction or
// read-after-write visibility guarantee beyond their own synchronization.
type Store interface {

	// SetString persists value under key. It returns false if the write failed.
	SetString(key string, value string) bool

	// SetInt persists value under key. It returns false if the write failed.
	SetInt(key string, value int) bool

	// GetString returns the string stored under key.
	// The bool flag is false if key is absent or holds a non string value.
	GetString(key string) (string, bool)

	// GetInt returns the integer stored under key.
	// The bool flag is false if key is absent or holds a non integer value.
	GetInt(key string) (int, bool)

	// Remove deletes key. It returns true if key was present.
	Remove(key string) bool
}

const (
	kindString = 1
	kindInt    = 2
)

type record struct {
	Kind int
	Str  string
	Int  int
}

// MemStore provides the "fast" in memory Store tier.
type MemStore struct {
	mut     sync.RWMutex
	entries map[string]record
}

// NewMemStore instantiates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]record)}
}

// SetString persists value under key.
func (self *MemStore) SetString(key string, value string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.entries[key] = record{Kind: kindString, Str: value}

	return true
}

// SetInt persists value under key.
func (self *MemStore) SetInt(key string, value int) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.entries[key] = record{Kind: kindInt, Int: value}

	return true
}

// GetString returns the string stored under key.
func (self *MemStore) GetString(key string) (string, bool) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	rec, found := self.entries[key]
	if !found || kindString != rec.Kind {
		return "", false
	}

	return rec.Str, true
}

// GetInt returns the integer stored under key.
func (self *MemStore) GetInt(key string) (int, bool) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	rec, found := self.entries[key]
	if !found || kindInt != rec.Kind {
		return 0, false
	}

	return rec.Int, true
}

// Remove deletes key.
func (self *MemStore) Remove(key string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	_, found := self.entries[key]
	delete(self.entries, key)

	return found
}

var _ Store = &MemStore{}
