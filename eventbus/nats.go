package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/trace"
	"github.com/ceyewan/scoutquest/xerrors"
)

// DefaultSubjectPrefix NATS 主题默认前缀
const DefaultSubjectPrefix = "scoutquest.events"

// NATSConfig NATS 转发配置
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *NATSConfig) setDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Name == "" {
		c.Name = "scoutquest"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// NATSSink 将事件以 JSON 发布到 <prefix>.<service_name>
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger clog.Logger
}

// NewNATSSink 连接 NATS 并创建 Sink
func NewNATSSink(cfg NATSConfig, logger clog.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "nats url is required")
	}
	cfg.setDefaults()
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.WithNamespace("nats")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", clog.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", clog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "connect nats %s", cfg.URL)
	}

	logger.Info("event forwarding to nats enabled", clog.String("subject_prefix", cfg.SubjectPrefix))
	return &NATSSink{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Send 发布单条事件
func (s *NATSSink) Send(ctx context.Context, event registry.ServiceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(err, "marshal event")
	}
	subject := Subject(s.prefix, event.ServiceName)

	_, span, headers := trace.StartProducerSpan(ctx, trace.MessagingSystemNATS, subject,
		attribute.String(trace.AttrServiceName, event.ServiceName),
		attribute.String("scoutquest.event_type", string(event.EventType)))
	defer span.End()

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set("Scoutquest-Event-Type", string(event.EventType))

	if err := s.conn.PublishMsg(msg); err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrapf(err, "publish to %s", subject)
	}
	return nil
}

// Close 刷新缓冲并断开连接
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Subject 计算事件主题。服务名中的 '.'、'*'、'>' 与空白会破坏主题层级，统一替换为 '_'
func Subject(prefix, service string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, service)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token
}
