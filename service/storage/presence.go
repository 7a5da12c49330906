package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	rds "pulsechat/service/storage/redis"
)

// presence key: room:presence:<roomID>:<userID>
// Value: client platform, TTL controls the in-room validity period.
func presenceKey(roomID, userID string) string {
	return "room:presence:" + roomID + ":" + userID
}

// PresenceJoin marks the user as present in the room and renews the TTL.
func PresenceJoin(ctx context.Context, roomID, userID, platform string, ttl time.Duration) error {
	return rds.GetRedis().Set(ctx, presenceKey(roomID, userID), platform, ttl).Err()
}

// PresenceLeave actively clears the user's presence (deletes the key).
func PresenceLeave(ctx context.Context, roomID, userID string) error {
	return rds.GetRedis().Del(ctx, presenceKey(roomID, userID)).Err()
}

// PresenceLookup checks whether the user is currently present in the room.
func PresenceLookup(ctx context.Context, roomID, userID string) (platform string, present bool, err error) {
	val, err := rds.GetRedis().Get(ctx, presenceKey(roomID, userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
