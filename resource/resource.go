// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource keeps track of every engine resource that is
// currently loaded, so that subsystems can query counts and memory
// footprint without holding references to the resources themselves.
package resource

import (
	"sort"
	"sync"
)

// Type identifies the kind of a resource.
type Type int

// Known resource types
const (
	TypeUnknown Type = iota
	TypeTexture2D
	TypeMaterial
	TypeShader
	TypeMesh
	TypeAudio
)

var typeNames = [...]string{
	TypeUnknown:   "unknown",
	TypeTexture2D: "texture2d",
	TypeMaterial:  "material",
	TypeShader:    "shader",
	TypeMesh:      "mesh",
	TypeAudio:     "audio",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeUnknown]
	}
	return typeNames[t]
}

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// Resource describes an engine resource that can be uniquely identified.
type Resource interface {
	Releasable

	// ID returns a resource id that uniquely identifies it.
	ID() string

	// Type returns the kind of the resource.
	Type() Type

	// MemoryUsage returns the amount of bytes the resource accounts for.
	MemoryUsage() uint64
}

// NewCache creates an empty resource cache.
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]Resource),
	}
}

// Cache holds loaded resources by their id. It is safe to use
// concurrently, loaders may populate it off the render thread.
type Cache struct {
	lock  sync.RWMutex
	items map[string]Resource
}

// Add puts the resource into the cache, replacing one
// with the same id if it exists.
func (c *Cache) Add(r Resource) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.items[r.ID()] = r
}

// Get returns the resource with the given id.
func (c *Cache) Get(id string) (Resource, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	r, ok := c.items[id]
	return r, ok
}

// Remove removes the resource from the cache and releases it.
func (c *Cache) Remove(id string) bool {
	c.lock.Lock()
	r, ok := c.items[id]
	delete(c.items, id)
	c.lock.Unlock()

	if ok {
		r.Release()
	}
	return ok
}

// CountByType returns the amount of cached resources of type t.
func (c *Cache) CountByType(t Type) int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var count int
	for _, r := range c.items {
		if r.Type() == t {
			count++
		}
	}
	return count
}

// MemoryUsage sums up memory usage of all resources of type t.
// TypeUnknown sums up everything.
func (c *Cache) MemoryUsage(t Type) uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var total uint64
	for _, r := range c.items {
		if t == TypeUnknown || r.Type() == t {
			total += r.MemoryUsage()
		}
	}
	return total
}

// IDs returns the sorted ids of all cached resources.
func (c *Cache) IDs() []string {
	c.lock.RLock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	c.lock.RUnlock()

	sort.Strings(ids)
	return ids
}

// Release releases every cached resource and empties the cache.
func (c *Cache) Release() {
	c.lock.Lock()
	items := c.items
	c.items = make(map[string]Resource)
	c.lock.Unlock()

	for _, r := range items {
		r.Release()
	}
}
