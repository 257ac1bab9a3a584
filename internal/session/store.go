// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe presence registry mapping usernames to connections.

package session

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/momentics/hioload-chat/api"
)

// Presence resolves usernames to connection ids.
type Presence interface {
	Resolve(username string) (int, bool)
	IsOnline(username string) bool
	Username(id int) (string, bool)
}

// Registry implements Presence. Usernames are sharded by hash; the reverse
// index is a single map. Lock order is byID before shard.
type Registry struct {
	shards []*presenceShard
	mask   uint32

	mu   sync.RWMutex
	byID map[int]string
}

type presenceShard struct {
	mu    sync.RWMutex
	users map[string]int
}

// NewRegistry constructs a sharded registry with shardCount shards.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	// find power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*presenceShard, m)
	for i := range shards {
		shards[i] = &presenceShard{users: make(map[string]int)}
	}
	return &Registry{shards: shards, mask: m - 1, byID: make(map[int]string)}
}

// shard picks the correct shard for a given username.
func (r *Registry) shard(username string) *presenceShard {
	return r.shards[fnv32(username)&r.mask]
}

// Login binds username to connection id. A username may be online on one
// connection only, and a connection may hold one username.
func (r *Registry) Login(id int, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[id]; ok {
		return api.NewError(api.ErrCodeInvalidArgument, "already logged in").WithContext("username", cur)
	}
	sh := r.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, taken := sh.users[username]; taken {
		return api.NewError(api.ErrCodeAlreadyExists, "user already online").WithContext("username", username)
	}
	sh.users[username] = id
	r.byID[id] = username
	return nil
}

// Logout unbinds whatever username id holds.
func (r *Registry) Logout(id int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byID[id]
	if !ok {
		return "", false
	}
	delete(r.byID, id)
	sh := r.shard(name)
	sh.mu.Lock()
	if sh.users[name] == id {
		delete(sh.users, name)
	}
	sh.mu.Unlock()
	return name, true
}

func (r *Registry) Resolve(username string) (int, bool) {
	sh := r.shard(username)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	id, ok := sh.users[username]
	return id, ok
}

func (r *Registry) IsOnline(username string) bool {
	_, ok := r.Resolve(username)
	return ok
}

func (r *Registry) Username(id int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byID[id]
	return name, ok
}

// Online returns logged-in usernames in lexical order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byID))
	for _, name := range r.byID {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of logged-in users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
