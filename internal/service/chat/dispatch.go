package chat

import (
	"go.uber.org/zap"
)

// Dispatcher maps frame types to handler constructors. A fresh handler
// serves every frame. Unknown types fall through to the ping handler so
// a confused client gets a harmless answer instead of a dropped frame.
type Dispatcher struct {
	constructors map[string]func() Handler
}

// NewDispatcher wires the seven frame handlers.
func NewDispatcher(syncer *Syncer) *Dispatcher {
	return &Dispatcher{
		constructors: map[string]func() Handler{
			TypeMessage:   newMessageHandler,
			TypeFile:      newFileHandler,
			TypeInvite:    newInviteHandler,
			TypeTerminate: newTerminateHandler(syncer),
			TypeLookup:    newLookupHandler,
			TypePatch:     newPatchHandler,
			TypePing:      newPingHandler,
		},
	}
}

// Dispatch picks the handler for a frame type.
func (d *Dispatcher) Dispatch(frameType string) Handler {
	ctor, ok := d.constructors[frameType]
	if !ok {
		zap.L().Warn("unknown frame type", zap.String("type", frameType))
		return newPingHandler()
	}
	return ctor()
}
