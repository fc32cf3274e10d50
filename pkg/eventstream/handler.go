package eventstream

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
)

// Handler processes delivered events. Any type with a Handle method
// qualifies. A handler may also implement Name() string to control how it
// is identified in logs, metrics and dead letters.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Typed adapts a function over one concrete variant to Handler.
//
// Example:
//
//	h := eventstream.Typed(func(ctx context.Context, evt *event.AlertTriggered) error {
//	    return notify(ctx, evt.Title)
//	})
func Typed[E event.Event](fn func(ctx context.Context, evt E) error) Handler {
	return typedHandler[E](fn)
}

type typedHandler[E event.Event] func(ctx context.Context, evt E) error

func (f typedHandler[E]) Handle(ctx context.Context, evt event.Event) error {
	typed, ok := evt.(E)
	if !ok {
		var want E
		return fmt.Errorf("unexpected event %T, want %T", evt, want)
	}
	return f(ctx, typed)
}

func (f typedHandler[E]) Name() string {
	var zero E
	return fmt.Sprintf("typed(%T)", zero)
}

// Named gives h a fixed name.
func Named(name string, h Handler) Handler {
	return namedHandler{Handler: h, name: name}
}

type namedHandler struct {
	Handler
	name string
}

func (n namedHandler) Name() string { return n.name }

// HandlerName returns the name a handler is identified by.
func HandlerName(h Handler) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// invoke calls h, converting a panic into a *PanicError.
func invoke(ctx context.Context, h Handler, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
	}()
	return h.Handle(ctx, evt)
}
