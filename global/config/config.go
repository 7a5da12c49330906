package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	mongoutil "pulsechat/data/database/mgo/mongoutil"
	"pulsechat/logger"
	rds "pulsechat/service/storage/redis"
)

// AppConfig 进程级配置；全部可由环境变量覆盖，.env 仅为本地开发便利
type AppConfig struct {
	NodeID   int64
	HTTPPort int

	Mongo mongoutil.Config
	Redis rds.Config

	KafkaBrokers []string
	KafkaGroupID string

	NatsServers []string

	MaintenanceCron string
}

var Global AppConfig

// Load 读取 .env（如有）并装配全局配置
func Load() {
	_ = godotenv.Load()

	Global = AppConfig{
		NodeID:   envInt64("NODE_ID", 1),
		HTTPPort: int(envInt64("HTTP_PORT", 8080)),
		Mongo: mongoutil.Config{
			Uri:         env("MONGO_URI", "mongodb://localhost:27017"),
			Database:    env("MONGO_DB", "pulsechat"),
			Username:    os.Getenv("MONGO_USER"),
			Password:    os.Getenv("MONGO_PASSWORD"),
			MaxPoolSize: int(envInt64("MONGO_POOL", 20)),
			MaxRetry:    3,
		},
		Redis: rds.Config{
			Addr:     env("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       int(envInt64("REDIS_DB", 0)),
			PoolSize: int(envInt64("REDIS_POOL", 10)),
		},
		KafkaBrokers:    envList("KAFKA_BROKERS", "localhost:9092"),
		KafkaGroupID:    env("KAFKA_GROUP_ID", "pulsechat-indexer-1"),
		NatsServers:     envList("NATS_SERVERS", "nats://localhost:4222"),
		MaintenanceCron: env("MAINTENANCE_CRON", ""),
	}

	logger.Infof("config loaded: http=%d mongo=%s", Global.HTTPPort, Global.Mongo.Database)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warnf("bad int for %s: %q, using %d", key, v, def)
		return def
	}
	return n
}

func envList(key, def string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
