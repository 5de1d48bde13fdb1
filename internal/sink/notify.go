package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"agentsched.org/internal/obs"
)

// LogNotifier writes each message to the structured log instead of delivering it.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, userID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obs.Log(obs.LevelInfo, "notification", map[string]any{
		"user_id":  userID,
		"event_id": msg.EventID,
		"channel":  string(msg.Channel),
		"subject":  msg.Subject,
		"send_at":  msg.SendAt.Format(time.RFC3339),
	})
	return nil
}

// AMQPConfig describes the RabbitMQ connection used by AMQPNotifier.
type AMQPConfig struct {
	URL     string
	Queue   string
	Durable bool
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes messages as JSON onto a RabbitMQ queue for a
// downstream delivery worker.
type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	pub   amqpPublisher
	queue string
}

// NewAMQPNotifier dials RabbitMQ and declares the queue.
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp notifier: url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentsched.notifications"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp notifier: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp notifier: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp notifier: declare queue: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, pub: ch, queue: queue}, nil
}

func (n *AMQPNotifier) Send(ctx context.Context, userID string, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	return n.pub.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.EventID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"user_id": userID, "channel": string(msg.Channel)},
		Body:         body,
	})
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

// RedisConfig describes the Redis list used by RedisNotifier.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	List     string
}

type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisNotifier pushes messages as JSON onto a Redis list.
type RedisNotifier struct {
	client *redis.Client
	push   listPusher
	list   string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis notifier: address is required")
	}
	list := cfg.List
	if list == "" {
		list = "agentsched:notifications"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis notifier: ping: %w", err)
	}
	return &RedisNotifier{client: client, push: client, list: list}, nil
}

func (n *RedisNotifier) Send(ctx context.Context, _ string, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.push.LPush(ctx, n.list, body).Err(); err != nil {
		return fmt.Errorf("redis notifier: push: %w", err)
	}
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}
