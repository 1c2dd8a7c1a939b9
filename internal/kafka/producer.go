package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/logger"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// GetProducerInstance 获取底层sarama producer实例（用于扩展功能）
func (p *Producer) GetProducerInstance() sarama.SyncProducer {
	return p.producer
}

// 摄取事件动作
const (
	ActionProcess = "process"
	ActionDelete  = "delete"
)

// IngestEvent 文档摄取事件
//
// 同一文档的事件以document_id为key，保证落在同一分区内有序。
type IngestEvent struct {
	DocumentID  string    `json:"document_id"`
	Action      string    `json:"action"`
	ContentHash string    `json:"content_hash,omitempty"`
	Source      string    `json:"source,omitempty"`
	RetryCount  int       `json:"retry_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// Topic 返回默认主题
func (p *Producer) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// PublishIngestEvent 发送摄取事件
//
// 生产者未初始化时返回错误，调用方据此降级为同步处理。
func (p *Producer) PublishIngestEvent(event *IngestEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.DocumentID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("action"),
				Value: []byte(event.Action),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("failed to publish ingest event", zap.Error(err), zap.String("document_id", event.DocumentID))
		return fmt.Errorf("failed to publish ingest event: %w", err)
	}

	logger.Debug("ingest event published",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("document_id", event.DocumentID),
		zap.String("action", event.Action))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
