package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelTelegram Channel = "telegram"
	ChannelRedis    Channel = "redis"
	ChannelRabbitMQ Channel = "rabbitmq"
)

// Kind 区分事件类型。
type Kind string

const (
	KindActionConfirmed Kind = "action_confirmed"
	KindActionFailed    Kind = "action_failed"
	KindRoundAdvanced   Kind = "round_advanced"
	KindSummary         Kind = "summary"
)

// Event 描述一次需要通知的事件。Alert 为 false 的错误事件不推送给人。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Code       xerrors.Code      `json:"code,omitempty"`
	Severity   xerrors.Severity  `json:"severity"`
	Alert      bool              `json:"alert,omitempty"`
	Message    string            `json:"message"`
	Account    string            `json:"account,omitempty"`
	Category   string            `json:"category,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent 生成带唯一 ID 的事件。
func NewEvent(kind Kind, message string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   xerrors.SeverityInfo,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// FromError 用统一错误填充错误码、严重程度与是否告警。
func (e Event) FromError(err error) Event {
	if err == nil {
		return e
	}
	e.Code = xerrors.CodeOf(err)
	e.Severity = xerrors.SeverityOf(err)
	e.Alert = xerrors.ShouldAlert(err)
	if coded, ok := xerrors.From(err); ok {
		for k, v := range coded.Metadata() {
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[k] = v
		}
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata["error"] = err.Error()
	e.Metadata["retryable"] = strconv.FormatBool(xerrors.RetryableError(err))
	return e
}

// Text 渲染为便于阅读的多行文本。
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n%s", e.Severity, e.Kind, e.Message)
	if e.Account != "" {
		fmt.Fprintf(&b, "\n账户: %s", e.Account)
	}
	if e.Category != "" {
		fmt.Fprintf(&b, "\n类别: %s", e.Category)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, "\n交易: %s", e.TxHash)
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, e.Metadata[k])
		}
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。单个渠道失败不影响其他渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return xerrors.Wrap(xerrors.CodeSinkFailure, errors.Join(errs...), "事件投递失败",
			xerrors.WithMetadata("event", string(event.Kind)))
	}
	return nil
}

// LogNotifier 把事件写入应用日志，总是启用。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以事件严重程度对应的级别记录日志。
func (LogNotifier) Notify(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case xerrors.SeverityWarning:
		level = slog.LevelWarn
	case xerrors.SeverityCritical:
		level = slog.LevelError
	}
	logger.Named("alerting").Log(ctx, level, event.Message,
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("account", event.Account),
		slog.String("category", event.Category),
		slog.String("tx", event.TxHash),
	)
	return nil
}
