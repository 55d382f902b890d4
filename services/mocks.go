package services

import (
	"fmt"
	"sort"
	"strings"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	data map[string]string
}

func NewMockStore() *MockStore {
	return &MockStore{data: map[string]string{}}
}

func (self *MockStore) Get(key string) (string, error) {
	if value, ok := self.data[key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("key missing: %s", key)
}

func (self *MockStore) Set(key string, value string) error {
	self.data[key] = value
	return nil
}

func (self *MockStore) SetWithTTL(key string, value string, ttl uint64) error {
	return self.Set(key, value)
}

// GetRecursive returns matching nodes in key order, so tests see a
// deterministic listing.
func (self *MockStore) GetRecursive(prefix string) ([]Node, error) {
	var keys []string
	for key := range self.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var ret []Node
	for _, key := range keys {
		ret = append(ret, Node{Key: key, Value: self.data[key]})
	}
	return ret, nil
}
