package mocks

import (
	"context"
	"errors"
	"sync"

	"eduvideo-server/internal/storage"
)

// MemStore - in-memory реализация storage.AssetStore для тестов.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
	// FailPut имитирует недоступность хранилища на записи.
	FailPut bool
}

// NewMemStore создает пустое in-memory хранилище.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Put(ctx context.Context, ref string, data []byte) error {
	if s.FailPut {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[ref]
	if !ok {
		return nil, storage.ErrAssetDataNotFound
	}
	return data, nil
}

func (s *MemStore) ReadURL(ref string) (string, error) {
	return "http://assets.test/" + ref, nil
}

// Len возвращает число сохраненных объектов.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
