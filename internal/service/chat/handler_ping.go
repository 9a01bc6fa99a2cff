package chat

import (
	"context"
	"encoding/json"
)

// pingHandler answers keepalives. It is also the fallthrough for
// unknown frame types.
type pingHandler struct{}

func newPingHandler() Handler { return pingHandler{} }

func (pingHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	return &Outcome{
		Unicast: []SendForm{{Type: TypePing, Data: PingReply{Pong: true}}},
	}, nil
}
