package services

// Store is the persistent key value state of the hub. Keys form a
// hierarchy under "hearth/", eg device state lives at
// "hearth/state/devices/<device>" and subconfigs under "hearth/config/".
type Store interface {
	Set(key string, value string) error
	SetWithTTL(key string, value string, ttl uint64) error
	Get(key string) (string, error)
	GetRecursive(prefix string) ([]Node, error)
}

// Node is a single key value pair returned by GetRecursive.
type Node struct {
	Key   string
	Value string
}
