package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := s.registry.CreateRoom()
	if err != nil {
		s.logger.Error("create room", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: id})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	info, ok := s.registry.Lookup(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
