package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Dispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞提交/resolve 链路（Enqueue 只负责入队）
// - Kafka 短暂抖动靠队列吸收，后台慢慢补发
// - 队列满时允许降级丢弃，避免内存无限增长
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan FieldCommitEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, opt DispatcherOptions) *Dispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan FieldCommitEvent, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue：把事件放入本地队列。
// 队列满时等待直到 ctx 超时；事件轨迹不要求强一致，超时丢弃由调用方记录。
func (d *Dispatcher) Enqueue(ctx context.Context, evt FieldCommitEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt FieldCommitEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event doc=%s entity=%s field=%s worker=%d err=%v",
				evt.DocID, evt.EntityID, evt.FieldID, workerID, err)
			return
		}
		// 指数退避，封顶 maxBackoff
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt FieldCommitEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 按文档分区，同一文档的事件保序
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
