package mq

// MessageQueue 消息队列接口
type MessageQueue interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string, handler func(message []byte) error) error
	Close() error
}

// KeyedPublisher publishes with a partition key. Messages sharing a key keep
// their relative order.
type KeyedPublisher interface {
	PublishWithKey(topic, key string, message []byte) error
}
