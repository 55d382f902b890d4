package services

import (
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// RedisStore keeps hub state in redis, one value per key.
type RedisStore struct {
	pool *redis.Pool
}

func NewRedisStore(address string) (Store, error) {
	self := &RedisStore{
		pool: &redis.Pool{
			MaxIdle:     1,
			IdleTimeout: time.Hour,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", address)
			},
		},
	}
	// test the connection
	if err := self.Ping(); err != nil {
		return nil, err
	}
	return self, nil
}

// do checks out a pooled connection for a single command.
func (self *RedisStore) do(command string, args ...interface{}) (interface{}, error) {
	conn := self.pool.Get()
	defer conn.Close()
	return conn.Do(command, args...)
}

func (self *RedisStore) Ping() error {
	_, err := self.do("PING")
	return err
}

func (self *RedisStore) Set(key string, value string) error {
	_, err := self.do("SET", key, value)
	return err
}

func (self *RedisStore) SetWithTTL(key string, value string, ttl uint64) error {
	_, err := self.do("SET", key, value, "EX", ttl)
	return err
}

func (self *RedisStore) Get(key string) (string, error) {
	str, err := redis.String(self.do("GET", key))
	if err == redis.ErrNil {
		err = errors.Errorf("key missing: %s", key)
	}
	return str, err
}

func (self *RedisStore) GetRecursive(prefix string) ([]Node, error) {
	conn := self.pool.Get()
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("KEYS", prefix+"/*"))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := redis.Strings(conn.Do("MGET", redis.Args{}.AddFlat(keys)...))
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, len(keys))
	for i, key := range keys {
		nodes[i] = Node{Key: key, Value: values[i]}
	}
	return nodes, nil
}
