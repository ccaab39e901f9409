package redis

import "errors"

var (
	ErrFailedToParseRedisURL  = errors.New("redis: failed to parse connection URL")
	ErrFailedToConnectToRedis = errors.New("redis: failed to connect")
	ErrHealthcheckFailed      = errors.New("redis: healthcheck failed")
)
