package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"pulsechat/logger"
)

type ConsumerGroupHandler struct{}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group setup")
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := handlerFor(msg.Topic)
		if err != nil {
			logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		} else {
			if err := handler(session.Context(), msg.Key, msg.Value); err != nil {
				logger.Error("handler error",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func StartConsumerGroup(ctx context.Context, brokers []string, groupID string, topics []string) error {
	group, err := sarama.NewConsumerGroup(brokers, groupID, buildBaseConfig())
	if err != nil {
		return err
	}

	go func() {
		for err := range group.Errors() {
			logger.Error("consumer group error", zap.Error(err))
		}
	}()

	handler := &ConsumerGroupHandler{}
	for {
		select {
		case <-ctx.Done():
			return group.Close()
		default:
		}
		if err := group.Consume(ctx, topics, handler); err != nil {
			logger.Error("consume error", zap.Error(err))
		}
	}
}
