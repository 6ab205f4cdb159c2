package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
)

// Config はRabbitMQ接続設定
type Config struct {
	URL      string
	Exchange string
}

// Publisher は予約イベントをトピックエクスチェンジへ送信する
// ルーティングキーはイベント種別（reservation.created / reservation.canceled）
type Publisher struct {
	cfg  Config
	dial func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher は接続してエクスチェンジを宣言する
func NewPublisher(cfg Config) (*Publisher, error) {
	p := &Publisher{cfg: cfg, dial: amqp.Dial}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// Send は1件送信する。接続が切れていれば1度だけ再接続を試みる
func (p *Publisher) Send(ctx context.Context, event reservation.LifecycleEvent) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		logger.Warn("RabbitMQチャネルが閉じているため再接続します")
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, string(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("予約イベントの送信に失敗: %w", err)
	}
	return nil
}

// Close は接続を閉じる
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Publisher) connectLocked() error {
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("RabbitMQチャネルの作成に失敗: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("エクスチェンジの宣言に失敗: %w", err)
	}
	p.conn, p.ch = conn, ch
	logger.Info("RabbitMQ接続完了", zap.String("exchange", p.cfg.Exchange))
	return nil
}

func buildMessage(event reservation.LifecycleEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("予約イベントのシリアライズに失敗: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ReservationID + ":" + string(event.Type),
		Timestamp:    event.OccurredAt.UTC().Truncate(time.Second),
		Type:         string(event.Type),
		Headers:      amqp.Table{"tenant_id": event.TenantID},
		Body:         body,
	}, nil
}
