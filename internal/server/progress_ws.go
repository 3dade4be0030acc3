package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsWriteTimeout bounds each progress frame write.
const wsWriteTimeout = 5 * time.Second

// handleProgressWS streams all simulation progress updates over a websocket.
// The connection stays open until the client disconnects; slow clients
// miss updates rather than stall the simulations.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	s.streamProgress(w, r, "")
}

// handleRunProgressWS streams progress for a single simulation run.
func (s *Server) handleRunProgressWS(w http.ResponseWriter, r *http.Request) {
	s.streamProgress(w, r, chi.URLParam(r, "runID"))
}

// streamProgress upgrades the connection and forwards hub updates. When
// runID is non-empty, updates for other runs are skipped and the stream
// closes once that run reports completion.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API is CORS-open; mirror that for websocket upgrades.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	updates, cancel := s.hub.Subscribe()
	defer cancel()

	s.log.Debug().Msg("Progress subscriber connected")

	// Reads are discarded but must be pumped to process control frames
	// and notice disconnects.
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case update, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			if runID != "" && update.RunID != runID {
				continue
			}

			writeCtx, cancelWrite := context.WithTimeout(readCtx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, update)
			cancelWrite()
			if err != nil {
				s.log.Debug().Err(err).Msg("Progress subscriber write failed, dropping")
				return
			}
			if runID != "" && update.Done {
				conn.Close(websocket.StatusNormalClosure, "run complete")
				return
			}
		}
	}
}
