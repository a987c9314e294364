package room

import "errors"

var (
	// ErrHostSlotTaken is returned when a join with the host role targets a
	// room whose host slot is held by a live connection with a different
	// peer id.
	ErrHostSlotTaken = errors.New("host slot taken")
	ErrRoomFull      = errors.New("room full")
)
