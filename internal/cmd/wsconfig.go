package cmd

import (
	"github.com/zfogg/emoine/pkg/config"
	"github.com/zfogg/emoine/pkg/websocket"
)

// getConnection returns the process-wide connection
var getConnection = websocket.GetConnection

// wsConfig builds the connection config from the ws.* settings
func wsConfig() websocket.Config {
	return websocket.Config{
		Host:                   config.GetString("ws.host"),
		Port:                   config.GetInt("ws.port"),
		Path:                   config.GetString("ws.path"),
		UseTLS:                 config.GetBool("ws.use_tls"),
		ConnectTimeoutMs:       config.GetInt("ws.connect_timeout_ms"),
		MinReconnectionDelayMs: config.GetInt("ws.min_reconnect_delay_ms"),
		MaxReconnectionDelayMs: config.GetInt("ws.max_reconnect_delay_ms"),
		ReconnectionGrowFactor: config.GetFloat64("ws.reconnect_grow_factor"),
		MaxRetries:             config.GetInt("ws.max_retries"),
		MinUptimeMs:            config.GetInt("ws.min_uptime_ms"),
		HeartbeatIntervalMs:    config.GetInt("ws.heartbeat_interval_ms"),
		MaxEnqueuedMessages:    config.GetInt("ws.max_enqueued_messages"),
	}
}
