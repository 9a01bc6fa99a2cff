package chat

import (
	"context"
	"encoding/json"
	"sync"

	"talkroom_server/internal/cache"
	"talkroom_server/pkg/errorx"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is one live websocket bound to one (profile, room) pair. Two
// goroutines share the connection: the producer reads inbound frames
// and runs handlers, the consumer relays the room channel's multicast
// frames. Whichever exits first takes the session down.
type Session struct {
	deps       *Deps
	dispatcher *Dispatcher
	conn       *websocket.Conn

	hctx    *HandlerContext
	writeMu sync.Mutex
}

// NewSession wraps an accepted connection.
func NewSession(deps *Deps, dispatcher *Dispatcher, conn *websocket.Conn, profileID, roomID int64) *Session {
	return &Session{
		deps:       deps,
		dispatcher: dispatcher,
		conn:       conn,
		hctx: &HandlerContext{
			Deps:      deps,
			RoomID:    roomID,
			ProfileID: profileID,
		},
	}
}

// Run warms the room views, marks the profile connected, and pumps
// frames until the peer leaves or a handler closes the session.
func (s *Session) Run(ctx context.Context) {
	if err := s.accept(ctx); err != nil {
		zap.L().Warn("session rejected",
			zap.Int64("room_id", s.hctx.RoomID),
			zap.Int64("profile_id", s.hctx.ProfileID),
			zap.Error(err))
		code := websocket.CloseInvalidFramePayloadData
		if errorx.GetCode(err) == errorx.CodePermissionDenied {
			code = websocket.ClosePolicyViolation
		}
		s.closeWith(code, "room unavailable")
		return
	}
	defer func() {
		if _, err := s.deps.Coord.SetConnected(context.Background(), s.hctx.RoomID, s.hctx.ProfileID, false); err != nil {
			zap.L().Error("disconnect mark failed", zap.Error(err))
		}
	}()

	sub, err := s.deps.Bus.Subscribe(ctx, cache.RoomChannel(s.hctx.RoomID))
	if err != nil {
		zap.L().Error("room subscribe failed", zap.Int64("room_id", s.hctx.RoomID), zap.Error(err))
		s.closeWith(websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, 2)
	go func() {
		s.produce(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.consume(ctx, sub)
		done <- struct{}{}
	}()
	<-done
	cancel()
	_ = s.conn.Close()
	<-done
}

// accept validates membership via read-through and publishes presence.
func (s *Session) accept(ctx context.Context) error {
	info, err := s.deps.Coord.RoomInfo(ctx, s.hctx.RoomID, cache.GetOptions{Sync: true, Required: true})
	if err != nil {
		return err
	}
	if !info.HasMember(s.hctx.ProfileID) {
		return errorx.Newf(errorx.CodePermissionDenied, "profile %d is not in room %d", s.hctx.ProfileID, s.hctx.RoomID)
	}
	members, err := s.deps.Coord.Members(ctx, s.hctx.RoomID, s.hctx.ProfileID, cache.GetOptions{Sync: true, Required: true})
	if err != nil {
		return err
	}
	found := false
	for _, m := range members {
		if m.ID == s.hctx.ProfileID {
			s.hctx.Profile = m
			found = true
			break
		}
	}
	if !found {
		return errorx.Newf(errorx.CodeNotFound, "own member entry missing for profile %d", s.hctx.ProfileID)
	}
	info, err = s.deps.Coord.SetConnected(ctx, s.hctx.RoomID, s.hctx.ProfileID, true)
	if err != nil {
		return err
	}
	s.hctx.Room = info
	return nil
}

func (s *Session) produce(ctx context.Context) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.L().Warn("session read failed", zap.Int64("profile_id", s.hctx.ProfileID), zap.Error(err))
			}
			return
		}

		var form ReceiveForm
		if err := json.Unmarshal(payload, &form); err != nil {
			zap.L().Warn("undecodable frame", zap.Int64("profile_id", s.hctx.ProfileID), zap.Error(err))
			s.closeWith(websocket.CloseInvalidFramePayloadData, "invalid frame")
			return
		}

		// Presence may have moved since the last frame.
		if info, err := s.deps.Coord.RoomInfo(ctx, s.hctx.RoomID, cache.GetOptions{Sync: true}); err == nil && info != nil {
			s.hctx.Room = info
		}

		handler := s.dispatcher.Dispatch(form.Type)
		outcome, err := handler.Handle(ctx, s.hctx, form.Data)
		if err != nil {
			code := errorx.GetCode(err)
			zap.L().Error("frame handler failed",
				zap.String("type", form.Type),
				zap.Int64("room_id", s.hctx.RoomID),
				zap.Int64("profile_id", s.hctx.ProfileID),
				zap.Error(err))
			s.writeForm(SendForm{Type: "error", Data: map[string]any{
				"code":    code,
				"message": errorx.Message(code),
			}})
			if code == errorx.CodeInternalServerError {
				s.closeWith(websocket.CloseInternalServerErr, "internal error")
				return
			}
			continue
		}

		for _, frame := range outcome.Unicast {
			s.writeForm(frame)
		}
		for _, frame := range outcome.Multicast {
			raw, err := json.Marshal(frame)
			if err != nil {
				zap.L().Error("frame encode failed", zap.Error(err))
				continue
			}
			if err := s.deps.Bus.Publish(ctx, cache.RoomChannel(s.hctx.RoomID), raw); err != nil {
				// Delivery to other sessions is lost but both stores
				// already hold the entry; readers converge on lookup.
				zap.L().Error("multicast publish failed", zap.Int64("room_id", s.hctx.RoomID), zap.Error(err))
				s.writeForm(frame)
			}
		}
		if outcome.Close != nil {
			s.closeWith(outcome.Close.Code, outcome.Close.Text)
			return
		}
	}
}

func (s *Session) consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, payload)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) writeForm(frame SendForm) {
	raw, err := json.Marshal(frame)
	if err != nil {
		zap.L().Error("frame encode failed", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		zap.L().Warn("session write failed", zap.Int64("profile_id", s.hctx.ProfileID), zap.Error(err))
	}
}

func (s *Session) closeWith(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	_ = s.conn.Close()
}
