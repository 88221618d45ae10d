package httpapi

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleEvents streams settled reconciliation outcomes over a websocket.
// Each message is one Outcome document. The stream ends when the client
// disconnects or the reconciler shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	outcomes, cancel := s.reconciler.Subscribe()
	defer cancel()

	ctx := r.Context()
	// Surface client disconnects promptly by reading (and discarding)
	// inbound frames.
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				stopRead()
				return
			}
		}
	}()

	for {
		select {
		case <-readCtx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, outcome); err != nil {
				s.log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}
