package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout  = 10 * time.Second
	publishAttempts = 3
	appID           = "flowtale"
)

// RabbitMQPublisher публикует события в durable очередь через default exchange.
type RabbitMQPublisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQPublisher открывает канал и объявляет очередь.
// Соединение принадлежит publisher'у и закрывается в Close.
func NewRabbitMQPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("story event publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("story event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	logger.Info("Очередь событий историй объявлена", zap.String("queue", queueName))
	return &RabbitMQPublisher{
		conn:      conn,
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("StoryEventPublisher"),
	}, nil
}

// PublishStoryEvent сериализует событие и публикует его с повторами.
func (p *RabbitMQPublisher) PublishStoryEvent(ctx context.Context, event StoryEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга события %s: %w", event.EventType, err)
	}
	return p.publishMessage(ctx, body, string(event.EventType))
}

func (p *RabbitMQPublisher) publishMessage(ctx context.Context, body []byte, messageType string) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				Type:         messageType,
				AppId:        appID,
			},
		)
		if err == nil {
			p.logger.Debug("Событие опубликовано",
				zap.String("queue", p.queueName), zap.String("type", messageType), zap.Int("attempt", attempt))
			return nil
		}
		p.logger.Warn("Ошибка публикации события",
			zap.String("queue", p.queueName), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("ошибка публикации в очередь %s: %w", p.queueName, ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("ошибка публикации в очередь %s после %d попыток: %w", p.queueName, publishAttempts, err)
}

// Close закрывает канал и соединение.
func (p *RabbitMQPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectRabbitMQ подключается к брокеру с несколькими попытками.
func ConnectRabbitMQ(url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Подключение к RabbitMQ установлено")
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
