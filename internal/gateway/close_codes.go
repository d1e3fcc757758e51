package gateway

import "errors"

// WebSocket close codes used by the gateway protocol. Standard codes (1000, 1001) are defined by
// RFC 6455; the 4000 range is reserved for application use.
const (
	CloseUnknownError = 4000
	CloseDecodeError  = 4002
	CloseAuthFailed   = 4004
	CloseRateLimited  = 4008
)

// ErrMaxConnections is returned by the Hub when GatewayMaxConnections is reached.
var ErrMaxConnections = errors.New("maximum connections reached")
