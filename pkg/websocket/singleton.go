package websocket

import (
	"context"
	"encoding/hex"
	"sync"
	"unicode/utf8"

	"github.com/zfogg/emoine/pkg/logger"
)

var (
	instance *Socket
	once     sync.Once
)

// GetConnection returns the process-wide connection, creating and starting
// it on first use. A config passed to the first call replaces DefaultConfig;
// later calls ignore it. The returned socket may not be open yet.
func GetConnection(config ...Config) *Socket {
	once.Do(func() {
		cfg := DefaultConfig()
		if len(config) > 0 {
			cfg = config[0]
		}
		instance = NewConnection(cfg)
		instance.Start(context.Background())
	})
	return instance
}

// NewConnection builds a socket set up like the shared one (binary frames,
// lifecycle logging) without starting it. Most callers want GetConnection.
func NewConnection(cfg Config) *Socket {
	s := NewSocket(cfg)
	s.SetBinaryType(BinaryTypeBinary)

	s.AddEventListener(EventOpen, func(e Event) {
		logger.Info("connected", "event", e)
	})
	s.AddEventListener(EventMessage, func(e Event) {
		// JSON and logfmt encoders replace invalid UTF-8
		if logger.Structured() && !utf8.Valid(e.Data) {
			logger.Info("message", "hex", hex.EncodeToString(e.Data))
			return
		}
		logger.Info(string(e.Data))
	})
	s.AddEventListener(EventError, func(e Event) {
		logger.Error("err", "event", e)
	})
	s.AddEventListener(EventClose, func(e Event) {
		logger.Info("close", "event", e)
	})
	return s
}
