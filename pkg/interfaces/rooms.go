package interfaces

import "roomrelay/pkg/types"

// RoomDirectory is the administrative view of the live room registry.
type RoomDirectory interface {
	Snapshot() []types.RoomInfo
	Delete(name string) bool
	Count() int
}
