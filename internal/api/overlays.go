package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/overlay"
)

func (s *Server) handleListOverlays(w http.ResponseWriter, r *http.Request) {
	list, err := s.overlays.List(r.Context())
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Error fetching overlays")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOverlay(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	var o overlay.Overlay
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("Error creating overlay")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !o.HasGeometry() {
		log.Error().Msg("Position and size are required")
		writeError(w, http.StatusBadRequest, "Position and size are required")
		return
	}

	id, err := s.overlays.Create(r.Context(), o)
	if err != nil {
		log.Error().Err(err).Msg("Error creating overlay")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("id", id).Msg("Created overlay")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdateOverlay(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	id := mux.Vars(r)["id"]

	var patch overlay.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Error updating overlay")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.overlays.Update(r.Context(), id, patch)
	switch {
	case errors.Is(err, overlay.ErrInvalidID):
		log.Error().Str("id", id).Msg("Invalid ID format")
		writeError(w, http.StatusBadRequest, "Invalid ID format")
	case err != nil:
		log.Error().Err(err).Str("id", id).Msg("Error updating overlay")
		writeError(w, http.StatusBadRequest, err.Error())
	case !ok:
		log.Warn().Str("id", id).Msg("Overlay not found")
		writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Info().Str("id", id).Msg("Updated overlay")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Updated"})
	}
}

func (s *Server) handleDeleteOverlay(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	id := mux.Vars(r)["id"]

	ok, err := s.overlays.Delete(r.Context(), id)
	switch {
	case errors.Is(err, overlay.ErrInvalidID):
		log.Error().Str("id", id).Msg("Invalid ID format")
		writeError(w, http.StatusBadRequest, "Invalid ID format")
	case err != nil:
		log.Error().Err(err).Str("id", id).Msg("Error deleting overlay")
		writeError(w, http.StatusBadRequest, err.Error())
	case !ok:
		log.Warn().Str("id", id).Msg("Overlay not found")
		writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Info().Str("id", id).Msg("Deleted overlay")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
	}
}

// handleOverlayEvents streams overlay changes over a websocket
func (s *Server) handleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	// The client never sends anything; reading detects when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("WebSocket closed unexpectedly")
				}
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-gone:
			return
		}
	}
}
