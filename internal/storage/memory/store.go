package memory

import (
	"context"
	"sync"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/storage"
)

type MemStore struct {
	mx *sync.Mutex
	db map[domain.RoomID]domain.RoomMeta
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[domain.RoomID]domain.RoomMeta),
	}
}

func (ms *MemStore) Create(_ context.Context, room domain.RoomMeta) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[room.ID]; ok {
		return storage.ErrRoomExists
	}
	ms.db[room.ID] = room
	return nil
}

func (ms *MemStore) Get(_ context.Context, id domain.RoomID) (*domain.RoomMeta, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[id]
	if !ok {
		return nil, storage.ErrRoomNotFound
	}
	return &room, nil
}

func (ms *MemStore) Delete(_ context.Context, id domain.RoomID) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[id]; !ok {
		return storage.ErrRoomNotFound
	}
	delete(ms.db, id)
	return nil
}
