package mq

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/social/pkg/log"
)

var kafkaMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "social",
	Subsystem: "kafka",
	Name:      "messages_total",
	Help:      "Kafka messages by direction (produce/consume) and result.",
}, []string{"direction", "topic", "result"})

// Package-level singleton instance
var producerInstance *KafkaProducer

// Init initializes the Kafka producer singleton with config.
func Init(cfg KafkaConfig) error {
	producer, err := NewKafkaProducer(cfg)
	if err != nil {
		return err
	}
	producerInstance = producer
	return nil
}

// NewQueue returns the singleton Kafka producer instance.
// Returns nil if Kafka is not enabled or not initialized.
func NewQueue() *KafkaProducer {
	return producerInstance
}

// ============================================================================
// 配置
// ============================================================================

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool     `toml:"enabled" split_words:"true"`
	Brokers  []string `toml:"brokers" split_words:"true"`
	ClientID string   `toml:"client_id" split_words:"true"`
	Version  string   `toml:"version" split_words:"true"` // broker 协议版本，如 3.6.0，空为 sarama 默认

	// Acks 生产者确认级别: all, leader, none，默认 all
	Acks string `toml:"acks" split_words:"true"`
	// InitialOffset 无提交位点时从哪里消费: newest, oldest，默认 newest
	InitialOffset string `toml:"initial_offset" split_words:"true"`

	// EventsTopic 关系/在线状态变更事件的发布 topic
	EventsTopic string `toml:"events_topic" split_words:"true"`

	Consumers []ConsumerConfig `toml:"consumers" ignored:"true"`
}

// ConsumerConfig 单个消费者配置
type ConsumerConfig struct {
	Name   string   `toml:"name"`   // 消费者名称（用于日志）
	Group  string   `toml:"group"`  // 消费组
	Topics []string `toml:"topics"` // 订阅的 topics
}

var acksLevels = map[string]sarama.RequiredAcks{
	"":       sarama.WaitForAll,
	"all":    sarama.WaitForAll,
	"leader": sarama.WaitForLocal,
	"none":   sarama.NoResponse,
}

var initialOffsets = map[string]int64{
	"":       sarama.OffsetNewest,
	"newest": sarama.OffsetNewest,
	"oldest": sarama.OffsetOldest,
}

// Validate 验证配置
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("brokers is required when kafka is enabled")
	}
	if c.Version != "" {
		if _, err := sarama.ParseKafkaVersion(c.Version); err != nil {
			return errors.Wrapf(err, "version %q", c.Version)
		}
	}
	if _, ok := acksLevels[strings.ToLower(c.Acks)]; !ok {
		return errors.Errorf("acks must be all, leader, or none: %q", c.Acks)
	}
	if _, ok := initialOffsets[strings.ToLower(c.InitialOffset)]; !ok {
		return errors.Errorf("initial_offset must be newest or oldest: %q", c.InitialOffset)
	}
	for i, consumer := range c.Consumers {
		if consumer.Group == "" {
			return errors.Errorf("consumers[%d].group is required", i)
		}
		if len(consumer.Topics) == 0 {
			return errors.Errorf("consumers[%d].topics is required", i)
		}
	}
	return nil
}

// saramaConfig 生产者和消费者共用的客户端配置
func (c *KafkaConfig) saramaConfig(defaultClientID string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()

	cfg.ClientID = defaultClientID
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "version %q", c.Version)
		}
		cfg.Version = v
	}

	// 同一用户的事件落在同一分区，保持顺序
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.RequiredAcks = acksLevels[strings.ToLower(c.Acks)]
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = initialOffsets[strings.ToLower(c.InitialOffset)]
	cfg.Consumer.Return.Errors = true

	return cfg, nil
}

// ============================================================================
// 消费者
// ============================================================================

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, topic string, message []byte) error

// KafkaConsumer 消费组成员，处理失败的消息记录后继续提交位点
type KafkaConsumer struct {
	logger  *slog.Logger
	topics  []string
	group   sarama.ConsumerGroup
	handler MessageHandler

	ready     chan struct{}
	readyOnce sync.Once

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(kafka KafkaConfig, config ConsumerConfig, handler MessageHandler) (*KafkaConsumer, error) {
	saramaConfig, err := kafka.saramaConfig("social-consumer")
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(kafka.Brokers, config.Group, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consumer group")
	}

	name := config.Name
	if name == "" {
		name = config.Group
	}

	return &KafkaConsumer{
		logger:  log.Logger("kafka-consumer").With("name", name, "group", config.Group),
		topics:  config.Topics,
		group:   group,
		handler: handler,
		ready:   make(chan struct{}),
	}, nil
}

// Start joins the group and returns once the first partition assignment is
// done or ctx ends. Consumption continues in the background until Stop.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go c.drainErrors()

	select {
	case <-c.ready:
		c.logger.Info("consumer started", "topics", c.topics)
	case <-ctx.Done():
	}
	return nil
}

// consumeLoop 每次 rebalance 后 Consume 返回，需要重新加入
func (c *KafkaConsumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	h := &claimHandler{consumer: c}
	for {
		err := c.group.Consume(ctx, c.topics, h)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Error("consume failed, retrying", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainErrors 开启 Return.Errors 后必须读取错误通道
func (c *KafkaConsumer) drainErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.Warn("consumer group error", "error", err)
	}
}

func (c *KafkaConsumer) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Stop 停止消费者，可重复调用
func (c *KafkaConsumer) Stop() error {
	if c == nil {
		return nil
	}

	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		// Close 关闭错误通道，drainErrors 随之退出
		c.stopErr = c.group.Close()
		c.wg.Wait()
	})
	return c.stopErr
}

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	consumer *KafkaConsumer
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.markReady()
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	logger := h.consumer.logger.With("topic", claim.Topic(), "partition", claim.Partition())

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			result := "ok"
			if err := h.consumer.handler(session.Context(), msg.Topic, msg.Value); err != nil {
				result = "error"
				logger.Error("failed to handle message", "offset", msg.Offset, "error", err)
			}
			kafkaMessages.WithLabelValues("consume", msg.Topic, result).Inc()

			// 失败的消息不重投，命令被拒绝会通过事件告知用户
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// ============================================================================
// 生产者
// ============================================================================

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	logger *slog.Logger
	client sarama.SyncProducer
}

var (
	_ MessageQueue   = (*KafkaProducer)(nil)
	_ KeyedPublisher = (*KafkaProducer)(nil)
)

// NewKafkaProducer returns nil without error when kafka is disabled.
func NewKafkaProducer(config KafkaConfig) (*KafkaProducer, error) {
	if !config.Enabled {
		return nil, nil
	}

	saramaConfig, err := config.saramaConfig("social")
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create producer")
	}

	return newProducer(client), nil
}

func newProducer(client sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{
		logger: log.Logger("kafka-producer"),
		client: client,
	}
}

// Publish 发布消息
func (p *KafkaProducer) Publish(topic string, message []byte) error {
	return p.PublishWithKey(topic, "", message)
}

// PublishWithKey 发布带分区键的消息，空 key 由分区器随机选择
func (p *KafkaProducer) PublishWithKey(topic, key string, message []byte) error {
	if p == nil {
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		kafkaMessages.WithLabelValues("produce", topic, "error").Inc()
		return errors.Wrapf(err, "send to %s", topic)
	}
	kafkaMessages.WithLabelValues("produce", topic, "ok").Inc()

	p.logger.Debug("message sent", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

// Close 关闭生产者
func (p *KafkaProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Subscribe is unsupported; commands are read through KafkaConsumer.
func (p *KafkaProducer) Subscribe(string, func([]byte) error) error {
	return errors.New("kafka producer does not support subscribe, use KafkaConsumer instead")
}
