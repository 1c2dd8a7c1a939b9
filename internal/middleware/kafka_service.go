package middleware

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/kafka"
	"github.com/aihub/assistant-go/internal/logger"
)

// KafkaService Kafka事件服务
type KafkaService struct {
	producer *kafka.Producer
}

// NewKafkaService 创建Kafka服务实例
func NewKafkaService() *KafkaService {
	return &KafkaService{
		producer: kafka.GetProducer(),
	}
}

// Enabled 生产者是否可用
func (s *KafkaService) Enabled() bool {
	return s != nil && s.producer != nil && s.producer.GetProducerInstance() != nil
}

// PublishIngestEvent 发送文档摄取事件
//
// 生产者未配置时返回错误，上层据此降级为同步处理。
func (s *KafkaService) PublishIngestEvent(event *kafka.IngestEvent) error {
	if !s.Enabled() {
		return fmt.Errorf("kafka producer not initialized")
	}
	return s.producer.PublishIngestEvent(event)
}

// SendMessage 发送任意消息到指定Topic
func (s *KafkaService) SendMessage(topic, key string, message interface{}) error {
	if !s.Enabled() {
		logger.Warn("kafka producer not initialized, message skipped", zap.String("topic", topic))
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		kafkaMsg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := s.producer.GetProducerInstance().SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("failed to send kafka message", zap.Error(err), zap.String("topic", topic))
		return fmt.Errorf("failed to send message: %w", err)
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}
