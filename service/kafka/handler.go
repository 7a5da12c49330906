package kafka

import (
	"context"
	"sync"

	"pulsechat/tools/errs"
)

// EventHandler 按 topic 路由消费到的事件。
// ctx 来自消费组会话，分区再均衡时被取消；返回错误只记日志，
// 位点照常推进（重投递由上游发布方保证幂等）。
type EventHandler func(ctx context.Context, key, value []byte) error

type handlerRegistry struct {
	mu sync.RWMutex
	m  map[string]EventHandler
}

var registry = handlerRegistry{m: make(map[string]EventHandler)}

// RegisterHandler 注册 topic 的消费处理；同名后注册覆盖先注册
func RegisterHandler(topic string, h EventHandler) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.m[topic] = h
}

func handlerFor(topic string) (EventHandler, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if h, ok := registry.m[topic]; ok {
		return h, nil
	}
	return nil, errs.New("no handler registered for topic", "topic", topic)
}
