package mq

import "sync"

// InMemoryQueue 内存消息队列（用于测试和 memory 后端）
type InMemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte) error
	messages map[string][][]byte
	keys     map[string][]string
}

// 确保 InMemoryQueue 实现 MessageQueue 接口
var (
	_ MessageQueue   = (*InMemoryQueue)(nil)
	_ KeyedPublisher = (*InMemoryQueue)(nil)
)

// NewInMemoryQueue 创建内存消息队列
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func([]byte) error),
		messages: make(map[string][][]byte),
		keys:     make(map[string][]string),
	}
}

// Publish 发布消息（同步处理）
func (q *InMemoryQueue) Publish(topic string, message []byte) error {
	return q.PublishWithKey(topic, "", message)
}

// PublishWithKey 发布带分区键的消息
func (q *InMemoryQueue) PublishWithKey(topic, key string, message []byte) error {
	q.mu.Lock()
	q.messages[topic] = append(q.messages[topic], message)
	q.keys[topic] = append(q.keys[topic], key)
	handlers := append([]func([]byte) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	// 同步调用所有 handlers，不持锁以便 handler 再次发布
	for _, handler := range handlers {
		if err := handler(message); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 订阅 topic
func (q *InMemoryQueue) Subscribe(topic string, handler func([]byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close 关闭
func (q *InMemoryQueue) Close() error {
	return nil
}

// GetMessages 获取指定 topic 的所有消息（用于测试）
func (q *InMemoryQueue) GetMessages(topic string) [][]byte {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([][]byte(nil), q.messages[topic]...)
}

// GetKeys 获取指定 topic 每条消息的分区键（用于测试）
func (q *InMemoryQueue) GetKeys(topic string) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.keys[topic]...)
}
