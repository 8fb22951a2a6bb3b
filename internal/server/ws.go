package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 75 * time.Second
	wsReadLimit  = 4096
)

// 客户端帧类型
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// 服务端回执帧类型，事件帧直接是 ServiceEvent JSON
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// ClientFrame 客户端发送的订阅控制帧
type ClientFrame struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

// ReplyFrame 服务端对控制帧的回执
type ReplyFrame struct {
	Type     string   `json:"type"`
	Service  string   `json:"service,omitempty"`
	Services []string `json:"services,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// streamEvents 每个连接一个读协程和一个写协程。
// 新连接默认接收全部服务的事件；subscribe 之后只接收已订阅服务的事件。
func (s *Server) streamEvents(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}

	// 握手完成前订阅，握手成功后发生的事件都能送达
	sub := s.bus.Subscribe()
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "websocket upgrade failed", clog.Error(err))
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("websocket connected", clog.String("remote", remote))

	ctx, cancel := context.WithCancel(context.Background())
	replies := make(chan ReplyFrame, 8)

	go func() {
		defer cancel()
		s.wsRead(conn, sub, replies, remote)
	}()
	s.wsWrite(ctx, conn, sub, replies)
	cancel()
	_ = conn.Close()

	s.logger.Debug("websocket disconnected",
		clog.String("remote", remote),
		clog.Uint64("dropped", sub.Dropped()))
}

func (s *Server) wsRead(conn *websocket.Conn, sub *eventbus.Subscription, replies chan<- ReplyFrame, remote string) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", clog.String("remote", remote), clog.Error(err))
			}
			return
		}

		reply := s.handleFrame(sub, data, remote)
		select {
		case replies <- reply:
		default:
		}
	}
}

// handleFrame 解析失败只记录日志并回复 error 帧，不断开连接
func (s *Server) handleFrame(sub *eventbus.Subscription, data []byte, remote string) ReplyFrame {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("invalid websocket frame", clog.String("remote", remote), clog.Error(err))
		return ReplyFrame{Type: FrameError, Message: "invalid frame: " + err.Error()}
	}
	if frame.Service == "" {
		s.logger.Warn("websocket frame without service",
			clog.String("remote", remote), clog.String("type", frame.Type))
		return ReplyFrame{Type: FrameError, Message: "service is required"}
	}

	switch frame.Type {
	case FrameSubscribe:
		sub.AddService(frame.Service)
		return ReplyFrame{Type: FrameSubscribed, Service: frame.Service, Services: sub.Services()}
	case FrameUnsubscribe:
		sub.RemoveService(frame.Service)
		return ReplyFrame{Type: FrameUnsubscribed, Service: frame.Service, Services: sub.Services()}
	default:
		s.logger.Warn("unknown websocket frame type",
			clog.String("remote", remote), clog.String("type", frame.Type))
		return ReplyFrame{Type: FrameError, Message: "unknown frame type " + frame.Type}
	}
}

func (s *Server) wsWrite(ctx context.Context, conn *websocket.Conn, sub *eventbus.Subscription, replies <-chan ReplyFrame) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
