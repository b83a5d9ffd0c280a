package analytics

import (
	"time"

	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
)

type ConnectionEvent struct {
	ServerType string
	// Endpoint is the connection string with credentials removed.
	Endpoint string
	Pooled   int32
	Active   int32
	FromPool bool
	Err      error
}

type CommandEvent struct {
	Repository  string
	Cluster     int
	Database    string
	ServerType  string
	CommandType string
	Command     string
	Elapsed     time.Duration
	Err         error
}

// Hook receives connection and command events. Implementations must return
// quickly; Safe shields the caller from panics.
type Hook interface {
	ConnectionOpened(e ConnectionEvent)
	ConnectionClosed(e ConnectionEvent)
	ConnectionFailed(e ConnectionEvent)
	CommandCompleted(e CommandEvent)
	CommandFailed(e CommandEvent)
}

type Nop struct{}

func (Nop) ConnectionOpened(ConnectionEvent) {}
func (Nop) ConnectionClosed(ConnectionEvent) {}
func (Nop) ConnectionFailed(ConnectionEvent) {}
func (Nop) CommandCompleted(CommandEvent)    {}
func (Nop) CommandFailed(CommandEvent)       {}

type multi []Hook

// Multi fans every event out to hooks in order.
func Multi(hooks ...Hook) Hook {
	return multi(hooks)
}

func (m multi) ConnectionOpened(e ConnectionEvent) {
	for _, h := range m {
		h.ConnectionOpened(e)
	}
}

func (m multi) ConnectionClosed(e ConnectionEvent) {
	for _, h := range m {
		h.ConnectionClosed(e)
	}
}

func (m multi) ConnectionFailed(e ConnectionEvent) {
	for _, h := range m {
		h.ConnectionFailed(e)
	}
}

func (m multi) CommandCompleted(e CommandEvent) {
	for _, h := range m {
		h.CommandCompleted(e)
	}
}

func (m multi) CommandFailed(e CommandEvent) {
	for _, h := range m {
		h.CommandFailed(e)
	}
}

type safe struct {
	h Hook
}

// Safe recovers and logs panics raised by h. A nil h yields Nop.
func Safe(h Hook) Hook {
	if h == nil {
		return Nop{}
	}
	if s, ok := h.(safe); ok {
		return s
	}
	return safe{h: h}
}

func (s safe) ConnectionOpened(e ConnectionEvent) {
	defer recoverHook("connection_opened")
	s.h.ConnectionOpened(e)
}

func (s safe) ConnectionClosed(e ConnectionEvent) {
	defer recoverHook("connection_closed")
	s.h.ConnectionClosed(e)
}

func (s safe) ConnectionFailed(e ConnectionEvent) {
	defer recoverHook("connection_failed")
	s.h.ConnectionFailed(e)
}

func (s safe) CommandCompleted(e CommandEvent) {
	defer recoverHook("command_completed")
	s.h.CommandCompleted(e)
}

func (s safe) CommandFailed(e CommandEvent) {
	defer recoverHook("command_failed")
	s.h.CommandFailed(e)
}

func recoverHook(event string) {
	if r := recover(); r != nil {
		logutil.BgLogger().Error("analytics hook panic", zap.String("event", event), zap.Any("panic", r), zap.Stack("stack"))
	}
}
