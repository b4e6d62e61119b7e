package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/rtvad/pkg/audio"
	"github.com/chriscow/rtvad/pkg/vad"
)

// session is one websocket connection and the engine it owns. The read loop
// is the only goroutine touching the engine, so observer callbacks run there
// and hand messages to the write loop through out.
type session struct {
	id     string
	conn   *websocket.Conn
	opts   Options
	logger *slog.Logger
	out    chan Message
}

func newSession(id string, conn *websocket.Conn, opts Options, logger *slog.Logger) *session {
	return &session{
		id:     id,
		conn:   conn,
		opts:   opts,
		logger: logger,
		out:    make(chan Message, 64),
	}
}

func (s *session) run(ctx context.Context, newEngine func(*slog.Logger) (*vad.Engine, error)) error {
	defer s.conn.Close()

	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	pongWait := 2 * s.opts.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	engine, err := newEngine(s.logger)
	if err != nil {
		s.writeNow(errorMessages(err)...)
		s.closeNow(websocket.CloseInternalServerErr, "engine unavailable")
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			s.logger.Error("engine release failed", slog.String("error", err.Error()))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		s.closeNow(websocket.CloseGoingAway, "")
		_ = s.conn.Close()
	})
	defer stop()

	g.Go(func() error {
		defer close(s.out)
		return s.readLoop(ctx, engine, pongWait)
	})
	g.Go(func() error {
		return s.writeLoop(ctx)
	})
	return g.Wait()
}

func (s *session) readLoop(ctx context.Context, engine *vad.Engine, pongWait time.Duration) error {
	engine.SetObserver(vad.ObserverFuncs{
		Start:    func(e vad.StartEvent) { s.send(ctx, startMessage(e)) },
		Continue: func(e vad.ContinueEvent) { s.send(ctx, continueMessage(e)) },
		End:      func(e vad.EndEvent) { s.send(ctx, endMessage(e)) },
	})

	ready := configData(engine.Config())
	ready["session"] = s.id
	s.send(ctx, Message{Type: TypeReady, Data: ready})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.BinaryMessage:
			s.handleAudio(ctx, engine, data)
		case websocket.TextMessage:
			if done := s.handleControl(ctx, engine, data); done {
				return nil
			}
		}
	}
}

func (s *session) handleAudio(ctx context.Context, engine *vad.Engine, data []byte) {
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		s.sendError(ctx, badMessage(err))
		return
	}
	if err := engine.Push(samples); err != nil {
		s.sendError(ctx, err)
	}
}

// handleControl processes one JSON message and reports whether the stream
// is finished.
func (s *session) handleControl(ctx context.Context, engine *vad.Engine, data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ctx, badMessage(err))
		return false
	}
	s.logger.Debug("control message", slog.String("type", msg.Type))

	switch msg.Type {
	case TypePing:
		s.send(ctx, Message{Type: TypePong, Data: msg.Data})

	case TypeConfigure:
		var req ConfigureRequest
		if err := fromData(msg.Data, &req); err != nil {
			s.sendError(ctx, badMessage(fmt.Errorf("configure: %w", err)))
			return false
		}
		cfg, err := req.merge(engine.Config())
		if err != nil {
			s.sendError(ctx, &vad.Error{Op: "configure", Kind: vad.ErrInvalidConfig, Frame: -1, Err: err})
			return false
		}
		if err := engine.Apply(cfg); err != nil {
			s.sendError(ctx, err)
			return false
		}
		s.send(ctx, Message{Type: TypeConfigured, Data: configData(engine.Config())})

	case TypeRelease:
		if err := engine.Release(); err != nil {
			s.sendError(ctx, err)
		}
		s.send(ctx, Message{Type: TypeReleased})
		return true

	default:
		s.logger.Warn("unknown message type", slog.String("type", msg.Type))
		s.sendError(ctx, badMessage(fmt.Errorf("unknown message type %q", msg.Type)))
	}
	return false
}

func (s *session) send(ctx context.Context, msg Message) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *session) sendError(ctx context.Context, err error) {
	for _, msg := range errorMessages(err) {
		s.send(ctx, msg)
	}
}

// writeLoop owns data writes on the connection. It drains out until the read
// loop closes it, then says goodbye.
func (s *session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.out:
			if !ok {
				s.closeNow(websocket.CloseNormalClosure, "")
				return nil
			}
			if err := s.write(msg); err != nil {
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *session) write(msg Message) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// writeNow is used before the write loop starts.
func (s *session) writeNow(msgs ...Message) {
	for _, msg := range msgs {
		if err := s.write(msg); err != nil {
			s.logger.Debug("write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *session) closeNow(code int, text string) {
	deadline := time.Now().Add(s.opts.WriteTimeout)
	err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("close frame not sent", slog.String("error", err.Error()))
	}
}
