package cache

import (
	"context"
	"sync"
	"time"
)

// ============================================================
// LRU 本地存储（双向链表，O(1) 读写与淘汰）
// ============================================================

// MemoryStore 进程内 LRU 存储，ttl 为 0 时条目不过期
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
	now      func() time.Time
}

type lruNode struct {
	key       string
	value     []byte
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

// NewMemoryStore 创建 LRU 存储
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
		now:      time.Now,
	}
}

// Get 读取条目
func (s *MemoryStore) Get(_ context.Context, namespace Stage, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := nsKey(namespace, key)
	node, ok := s.items[k]
	if !ok {
		return nil, ErrMiss
	}
	if !node.expiresAt.IsZero() && s.now().After(node.expiresAt) {
		s.removeNode(node)
		delete(s.items, k)
		return nil, ErrMiss
	}

	s.moveToHead(node)
	return append([]byte(nil), node.value...), nil
}

// Set 写入条目，容量满时淘汰最久未使用的条目
func (s *MemoryStore) Set(_ context.Context, namespace Stage, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := nsKey(namespace, key)
	v := append([]byte(nil), value...)

	if node, ok := s.items[k]; ok {
		node.value = v
		node.expiresAt = s.expiry()
		s.moveToHead(node)
		return nil
	}

	if len(s.items) >= s.capacity {
		s.evictTail()
	}

	node := &lruNode{key: k, value: v, expiresAt: s.expiry()}
	s.items[k] = node
	s.addToHead(node)
	return nil
}

// Len 当前条目数
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear 清空全部条目
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*lruNode)
	s.head = nil
	s.tail = nil
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) addToHead(node *lruNode) {
	node.prev = nil
	node.next = s.head
	if s.head != nil {
		s.head.prev = node
	}
	s.head = node
	if s.tail == nil {
		s.tail = node
	}
}

func (s *MemoryStore) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.tail = node.prev
	}
}

func (s *MemoryStore) moveToHead(node *lruNode) {
	if node == s.head {
		return
	}
	s.removeNode(node)
	s.addToHead(node)
}

func (s *MemoryStore) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.items, s.tail.key)
	s.removeNode(s.tail)
}
