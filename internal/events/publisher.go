// Package events delivers committed fee/fine actions to downstream consumers:
// log events for every action and patron notices for actions flagged to notify.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/money"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feefine_events_published_total",
	Help: "Post-commit publications, labeled by port and outcome",
}, []string{"port", "outcome"})

const (
	portEvents  = "events"
	portNotices = "notices"

	EventTypeAction = "FEE_FINE_ACTION"
	EventTypeNotice = "FEE_FINE_NOTICE"
)

// ActionEvent is the envelope published for every committed action.
type ActionEvent struct {
	Type   string        `json:"type"`
	Action domain.Action `json:"action"`
}

// NoticeEvent asks the notice service to inform the patron about an action.
type NoticeEvent struct {
	Type        string       `json:"type"`
	RecipientID string       `json:"recipientId"`
	AccountID   string       `json:"accountId"`
	ActionID    string       `json:"actionId"`
	TypeAction  string       `json:"typeAction"`
	Amount      money.Amount `json:"amount"`
	Balance     money.Amount `json:"balance"`
	Comment     string       `json:"comments,omitempty"`
}

func noticeFor(a domain.Action) NoticeEvent {
	return NoticeEvent{
		Type:        EventTypeNotice,
		RecipientID: a.UserID,
		AccountID:   a.AccountID,
		ActionID:    a.ID,
		TypeAction:  a.TypeAction,
		Amount:      a.AmountAction,
		Balance:     a.Balance,
		Comment:     a.Comment,
	}
}

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitPublisher publishes actions and notices to a topic exchange.
type RabbitPublisher struct {
	ch       Channel
	exchange string
	logger   *zap.Logger
}

func NewRabbitPublisher(ch Channel, exchange string, logger *zap.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange, logger: logger}
}

// DialRabbit connects to the broker, declares the exchange and returns a publisher
// together with a function that closes the channel and the connection.
func DialRabbit(url, exchange string, logger *zap.Logger) (*RabbitPublisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	closer := func() error {
		if err := ch.Close(); err != nil {
			conn.Close()
			return err
		}
		return conn.Close()
	}

	return NewRabbitPublisher(ch, exchange, logger), closer, nil
}

func ActionRoutingKey(kind domain.ActionKind) string {
	return "feefine.action." + string(kind)
}

const NoticeRoutingKey = "patron.notice.feefine"

func (p *RabbitPublisher) Publish(ctx context.Context, a domain.Action) error {
	return p.send(ctx, portEvents, ActionRoutingKey(a.Kind), a, ActionEvent{Type: EventTypeAction, Action: a})
}

func (p *RabbitPublisher) Notify(ctx context.Context, a domain.Action) error {
	return p.send(ctx, portNotices, NoticeRoutingKey, a, noticeFor(a))
}

func (p *RabbitPublisher) send(ctx context.Context, port, key string, a domain.Action, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		publishedTotal.WithLabelValues(port, "error").Inc()
		return fmt.Errorf("failed to encode %s payload: %w", port, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Timestamp:    a.DateAction,
		Body:         body,
	})
	if err != nil {
		publishedTotal.WithLabelValues(port, "error").Inc()
		return fmt.Errorf("failed to publish to %s/%s: %w", p.exchange, key, err)
	}

	publishedTotal.WithLabelValues(port, "ok").Inc()
	p.logger.Debug("published fee/fine message", zap.String("routing_key", key), zap.String("action_id", a.ID))
	return nil
}

// LogPublisher writes actions and notices to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, a domain.Action) error {
	publishedTotal.WithLabelValues(portEvents, "ok").Inc()
	p.logger.Info("fee/fine action event",
		zap.String("action_id", a.ID),
		zap.String("account_id", a.AccountID),
		zap.String("type_action", a.TypeAction),
		zap.Stringer("amount", a.AmountAction),
		zap.Stringer("balance", a.Balance),
	)
	return nil
}

func (p *LogPublisher) Notify(_ context.Context, a domain.Action) error {
	publishedTotal.WithLabelValues(portNotices, "ok").Inc()
	p.logger.Info("patron notice requested",
		zap.String("user_id", a.UserID),
		zap.String("account_id", a.AccountID),
		zap.String("type_action", a.TypeAction),
	)
	return nil
}
