package wsproto

import "context"

// Handler processes one inbound frame. A nil response frame means nothing is
// written back to the originating socket.
type Handler interface {
	Handle(ctx context.Context, frame *Frame) (*Frame, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, frame *Frame) (*Frame, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, frame *Frame) (*Frame, error) {
	return f(ctx, frame)
}

// Dispatcher routes inbound frames to handlers by frame type. Unknown types
// are reported to the caller so they can be logged and dropped.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register registers a handler for a frame type.
func (d *Dispatcher) Register(frameType string, handler Handler) {
	d.handlers[frameType] = handler
}

// RegisterFunc registers a handler function for a frame type.
func (d *Dispatcher) RegisterFunc(frameType string, handler HandlerFunc) {
	d.handlers[frameType] = handler
}

// Dispatch routes a frame to its handler. The boolean reports whether a
// handler was registered for the frame type.
func (d *Dispatcher) Dispatch(ctx context.Context, frame *Frame) (*Frame, bool, error) {
	handler, ok := d.handlers[frame.Type]
	if !ok {
		return nil, false, nil
	}
	response, err := handler.Handle(ctx, frame)
	return response, true, err
}

// HasHandler reports whether a handler is registered for the frame type.
func (d *Dispatcher) HasHandler(frameType string) bool {
	_, ok := d.handlers[frameType]
	return ok
}
