package peer

import "errors"

// ErrAlreadyAssigned is returned when a peer that is already in a room is
// assigned again.
var ErrAlreadyAssigned = errors.New("peer already assigned to a room")

// Assignment is a peer's room state: unassigned, or assigned to one room.
// The zero value is unassigned.
type Assignment struct {
	room     string
	assigned bool
}

// Assign returns the assigned state for room. Only the unassigned state can
// transition.
func (a Assignment) Assign(room string) (Assignment, error) {
	if a.assigned {
		return a, ErrAlreadyAssigned
	}
	return Assignment{room: room, assigned: true}, nil
}

// Room returns the assigned room name and whether there is one.
func (a Assignment) Room() (string, bool) {
	return a.room, a.assigned
}
