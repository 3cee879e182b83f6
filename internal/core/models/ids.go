package models

import "fmt"

// EntityID identifies an entity. The low 32 bits hold the slot index and the
// high 32 bits the slot generation, so a handle to a destroyed entity never
// matches the entity that later reuses its slot.
type EntityID uint64

// NullEntity is never issued by a store.
const NullEntity EntityID = 0

// NewEntityID packs a slot index and generation.
func NewEntityID(index, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32 { return uint32(id) }

func (id EntityID) Generation() uint32 { return uint32(id >> 32) }

func (id EntityID) IsNull() bool { return id == NullEntity }

func (id EntityID) String() string {
	if id == NullEntity {
		return "entity(null)"
	}
	return fmt.Sprintf("entity(%d:%d)", id.Index(), id.Generation())
}
