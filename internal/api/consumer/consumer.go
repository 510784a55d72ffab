package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/log"
	"github.com/Zereker/social/pkg/mq"
)

// DefaultActionsTopic 关系操作命令 topic
const DefaultActionsTopic = "social.actions"

// CommandHandler executes one command on behalf of a user.
type CommandHandler interface {
	HandleCommand(ctx context.Context, userID string, env domain.Envelope) error
}

// Command 队列中的一条命令，与 websocket 帧同构，额外携带发起用户
type Command struct {
	UserID string `json:"userId"`
	domain.Envelope
}

// Consumer 消费 social.actions 命令并交给引擎执行
type Consumer struct {
	logger    *slog.Logger
	engine    CommandHandler
	consumers []*mq.KafkaConsumer
}

// Config 消费者配置
type Config struct {
	Kafka mq.KafkaConfig

	// Local 在 kafka 关闭时订阅的进程内队列，可为空
	Local mq.MessageQueue
}

// NewConsumer 创建消费者
func NewConsumer(engine CommandHandler, cfg Config) (*Consumer, error) {
	c := &Consumer{
		logger: log.Logger("consumer"),
		engine: engine,
	}

	if !cfg.Kafka.Enabled {
		if cfg.Local != nil {
			ctx := context.Background()
			if err := cfg.Local.Subscribe(DefaultActionsTopic, func(message []byte) error {
				return c.Handle(ctx, DefaultActionsTopic, message)
			}); err != nil {
				return nil, errors.WithMessage(err, "subscribe local queue")
			}
			c.logger.Info("kafka disabled, consuming local queue", "topic", DefaultActionsTopic)
			return c, nil
		}
		c.logger.Info("kafka disabled, consumer not started")
		return c, nil
	}

	for _, consumerCfg := range cfg.Kafka.Consumers {
		kc, err := mq.NewKafkaConsumer(cfg.Kafka, consumerCfg, c.Handle)
		if err != nil {
			c.Stop()
			return nil, errors.WithMessagef(err, "create consumer %s", consumerCfg.Group)
		}
		c.consumers = append(c.consumers, kc)
	}

	return c, nil
}

// Handle decodes one command and executes it. Rejected commands are logged
// and reported to the user's live sessions by the engine.
func (c *Consumer) Handle(ctx context.Context, topic string, message []byte) error {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.logger.Warn("malformed command", "topic", topic, "error", err)
		return domain.NewValidationError("", "malformed command: %v", err)
	}

	if err := c.engine.HandleCommand(ctx, cmd.UserID, cmd.Envelope); err != nil {
		c.logger.Info("command rejected",
			"topic", topic,
			"user_id", cmd.UserID,
			"action", cmd.Action,
			"error", err,
		)
		return err
	}

	c.logger.Debug("command handled", "topic", topic, "user_id", cmd.UserID, "action", cmd.Action)
	return nil
}

// Start 启动所有消费者
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.consumers) == 0 {
		c.logger.Info("no consumers configured, skipping start")
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.consumers))

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range c.consumers {
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop 停止所有消费者
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")

	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}

	return nil
}
