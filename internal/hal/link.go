package hal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"robot/internal/logging"
)

// LinkStatus 表示连接状态
type LinkStatus int

const (
	StatusDisconnected LinkStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s LinkStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// link 链路状态与最后错误，供各硬件后端嵌入
type link struct {
	name      string
	status    LinkStatus
	lastError error
	mutex     sync.RWMutex
	logger    *logging.Logger
}

func newLink(name string) link {
	return link{name: name, logger: logging.GetLogger("hal").With("link", name)}
}

// Status 获取连接状态
func (l *link) Status() LinkStatus {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.status
}

func (l *link) setStatus(status LinkStatus) {
	l.mutex.Lock()
	prev := l.status
	l.status = status
	l.mutex.Unlock()
	if prev != status {
		l.logger.Info("Link status changed", "from", prev.String(), "to", status.String())
	}
}

// LastError 获取最后错误
func (l *link) LastError() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.lastError
}

func (l *link) fail(err error) error {
	l.mutex.Lock()
	l.lastError = err
	l.mutex.Unlock()
	l.setStatus(StatusError)
	return err
}

// retry 带间隔的重试，count 为额外重试次数
func retry(ctx context.Context, count int, interval time.Duration, logger *logging.Logger, operation func() error) error {
	var lastErr error
	for i := 0; i <= count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == count {
			break
		}
		logger.Warn("Retry after error", "attempt", i+1, "max_attempts", count, "error", err)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", count, lastErr)
}
