package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/folio-edge/folio-edge/internal/logging"
)

// MessageSkipWaiting 是页面请求立即激活等待中 worker 的命令。
const MessageSkipWaiting = "SKIP_WAITING"

// Message 是页面通过控制通道发送给 worker 的结构化消息。
type Message struct {
	Type string `json:"type"`
}

// UnknownMessageError 表示消息类型无法识别。
type UnknownMessageError struct {
	Type string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message type: %q", e.Type)
}

// HandleMessage 处理控制通道消息；SKIP_WAITING 让 worker 立即从 waiting 提升为 active。
func (w *Worker) HandleMessage(ctx context.Context, msg Message) error {
	fields := logging.WorkerFields(w.id, w.cfg.CacheName, "message")
	fields["type"] = msg.Type

	switch strings.TrimSpace(msg.Type) {
	case MessageSkipWaiting:
		w.logger.WithFields(fields).Info("skip_waiting_requested")
		return w.SkipWaiting(ctx)
	default:
		w.logger.WithFields(fields).Debug("message_ignored")
		return &UnknownMessageError{Type: msg.Type}
	}
}
