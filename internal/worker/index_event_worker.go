package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"legalrag/internal/model"
)

// EventStore persists decoded index events.
type EventStore interface {
	Create(ctx context.Context, event *model.IndexEvent) error
}

// IndexEventWorker consumes index events and writes them to the audit table.
type IndexEventWorker struct {
	conn      *amqp.Connection
	store     EventStore
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexEventWorker(conn *amqp.Connection, store EventStore, queueName string, log *zap.Logger) *IndexEventWorker {
	return &IndexEventWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		log:       log.Named("index_event_worker"),
	}
}

func (w *IndexEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

// Acknowledger is the subset of amqp.Delivery the worker needs; it lets the
// handler be driven without a broker.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (w *IndexEventWorker) handle(ctx context.Context, d amqp.Delivery) {
	w.process(ctx, d.Body, d)
}

func (w *IndexEventWorker) process(ctx context.Context, body []byte, ack Acknowledger) {
	var event model.IndexEvent
	if err := json.Unmarshal(body, &event); err != nil {
		w.log.Error("decode index event failed", zap.Error(err))
		_ = ack.Nack(false, false)
		return
	}
	event.ID = 0
	if err := w.store.Create(ctx, &event); err != nil {
		w.log.Error("persist index event failed", zap.String("type", event.Type), zap.Error(err))
		_ = ack.Nack(false, false)
		return
	}
	_ = ack.Ack(false)
}

func (w *IndexEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
