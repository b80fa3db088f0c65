package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/bridge"
)

// Router feeds triggerAgent messages from the page side into a controller
type Router struct {
	port       bridge.Port
	controller *Controller
	log        zerolog.Logger
}

// NewRouter creates a router reading from port
func NewRouter(port bridge.Port, controller *Controller, log zerolog.Logger) *Router {
	return &Router{
		port:       port,
		controller: controller,
		log:        log.With().Str("component", "router").Logger(),
	}
}

// Run routes messages until ctx is done or the port closes
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.port.Receive():
			if !ok {
				return nil
			}
			r.route(msg)
		}
	}
}

func (r *Router) route(msg bridge.Message) {
	if msg.Action != bridge.ActionTriggerAgent {
		r.log.Debug().Str("action", string(msg.Action)).Msg("ignoring page-bound message")
		return
	}
	ev, err := msg.CardEvent()
	if err != nil {
		r.log.Warn().Err(err).Msg("malformed trigger")
		return
	}
	r.controller.OnCardEvent(ev)
}
