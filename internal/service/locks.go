package service

import "sync"

// RoomLocks serializes same-room mutating operations. The lock is held across
// the store transaction and the local fan-out enqueue, so delivery order to the
// hub matches commit order for a room. The database transaction alone would not
// order the enqueues.
type RoomLocks struct {
	locks sync.Map // roomID -> *sync.Mutex
}

// NewRoomLocks creates an empty lock table.
func NewRoomLocks() *RoomLocks {
	return &RoomLocks{}
}

// Lock acquires the mutex for a room, creating it on first use.
func (l *RoomLocks) Lock(roomID string) {
	mu, _ := l.locks.LoadOrStore(roomID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

// Unlock releases the mutex for a room.
func (l *RoomLocks) Unlock(roomID string) {
	if mu, ok := l.locks.Load(roomID); ok {
		mu.(*sync.Mutex).Unlock()
	}
}
