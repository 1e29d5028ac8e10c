package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/aidenletourneau/scrapyard_server/internal/auth"
	"github.com/aidenletourneau/scrapyard_server/internal/logging"
	"github.com/aidenletourneau/scrapyard_server/internal/registry"
	"github.com/go-chi/chi/v5"
)

// OnlineUserResponse represents a connected user in the API response
type OnlineUserResponse struct {
	UserID      int64   `json:"user_id"`
	Connections int     `json:"connections"`
	Channels    []int64 `json:"channels"`
}

// ChannelMembersResponse lists the members of one channel
type ChannelMembersResponse struct {
	ChannelID int64   `json:"channel_id"`
	Members   []int64 `json:"members"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// HandleGetLogs returns all log entries
func HandleGetLogs(logStore *logging.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logStore.GetAll())
	}
}

// HandleGetOnline returns every user with a live connection
func HandleGetOnline(reg *registry.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.CheckSymmetry(); err != nil {
			logger.Error("channel membership out of sync", slog.Any("error", err))
		}

		users := reg.OnlineUsers()
		response := make([]OnlineUserResponse, 0, len(users))
		for _, userID := range users {
			response = append(response, OnlineUserResponse{
				UserID:      userID,
				Connections: len(reg.Addresses(userID)),
				Channels:    reg.Subscriptions(userID),
			})
		}
		writeJSON(w, response)
	}
}

// HandleGetChannelMembers returns the members of a channel
func HandleGetChannelMembers(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "id")
		channelID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			http.Error(w, "Invalid channel ID", http.StatusBadRequest)
			return
		}
		if !reg.ChannelExists(channelID) {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		writeJSON(w, ChannelMembersResponse{
			ChannelID: channelID,
			Members:   reg.Members(channelID),
		})
	}
}

// HandleLogout drops every connection and channel membership of the
// calling user. The simulation hears about it when the last socket closes.
func HandleLogout(reg *registry.Registry, resolver auth.Resolver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		user, err := resolver.Resolve(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		reg.LogoutUser(user.ID)
		logger.Info("user logged out", slog.Int64("userID", user.ID))
		w.WriteHeader(http.StatusNoContent)
	}
}

// Stopper asks the simulation to terminate
type Stopper interface {
	StopSimulation()
}

// HandleShutdown stops the simulation; the process follows once the
// simulation reports that it has terminated. Only users listed in admins
// may call it.
func HandleShutdown(stopper Stopper, resolver auth.Resolver, admins []int64, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		user, err := resolver.Resolve(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !slices.Contains(admins, user.ID) {
			logger.Warn("shutdown refused", slog.Int64("userID", user.ID), slog.String("remote", r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		logger.Warn("shutdown requested over http", slog.Int64("userID", user.ID), slog.String("remote", r.RemoteAddr))
		stopper.StopSimulation()
		w.WriteHeader(http.StatusAccepted)
	}
}
