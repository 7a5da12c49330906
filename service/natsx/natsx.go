package natsx

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsxClient 房间事件发布端（Core 模式，无持久化——房间事件是瞬态的）
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
}

var (
	clientOnce sync.Once
	client     *NatsxClient
)

// InitNatsx 连接 NATS（单例）
func InitNatsx(cfg NatsxConfig) error {
	var initErr error
	clientOnce.Do(func() {
		if len(cfg.Servers) == 0 {
			initErr = errors.New("nats servers missing")
			return
		}
		if cfg.ReconnectWait == 0 {
			cfg.ReconnectWait = 500 * time.Millisecond
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = 3 * time.Second
		}
		opts := []nats.Option{
			nats.Name(cfg.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(cfg.ReconnectWait),
			nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
			nats.Timeout(cfg.Timeout),
		}
		nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
		if err != nil {
			initErr = err
			return
		}
		client = &NatsxClient{cfg: cfg, nc: nc}
	})
	return initErr
}

// RoomEvent 房间内瞬态事件，广播给网关层做实时下发
type RoomEvent struct {
	RoomID string         `json:"room_id"`
	UserID string         `json:"user_id,omitempty"`
	Kind   string         `json:"kind"` // joined / left / status / started / ended
	Status string         `json:"status,omitempty"`
	AtMS   int64          `json:"at_ms"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func roomSubject(roomID string) string { return "room.events." + roomID }

// PublishRoomEvent 尽力而为；NATS 未初始化或发布失败由调用方记日志
func PublishRoomEvent(ev RoomEvent) error {
	if client == nil {
		return errors.New("natsx not initialized")
	}
	if ev.AtMS == 0 {
		ev.AtMS = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return client.nc.Publish(roomSubject(ev.RoomID), payload)
}

// Close 断开连接
func Close() {
	if client != nil && client.nc != nil {
		client.nc.Close()
	}
}
