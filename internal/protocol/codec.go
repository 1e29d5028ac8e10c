package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

var (
	ErrUnknownType    = errors.New("protocol: unknown envelope type")
	ErrUnknownCommand = errors.New("protocol: unknown envelope command")
	ErrMissingPayload = errors.New("protocol: missing envelope payload")
)

// wire is the JSON shape shared by every envelope
type wire struct {
	Type      Kind                   `json:"type"`
	Command   Command                `json:"command,omitempty"`
	UserID    *int64                 `json:"userId,omitempty"`
	User      *models.UserProfile    `json:"user,omitempty"`
	Resources *models.Resources      `json:"resources,omitempty"`
	Actions   *models.ActionMetadata `json:"actions,omitempty"`
	Player    *models.Player         `json:"player,omitempty"`
	Players   []models.Player        `json:"players,omitempty"`
	Message   *string                `json:"message,omitempty"`
}

// EncodeToSimulation serializes an envelope bound for the simulation
func EncodeToSimulation(env ToSimulation) ([]byte, error) {
	return json.Marshal(env.toWire())
}

// EncodeToClient serializes an envelope bound for the connection side
func EncodeToClient(env ToClient) ([]byte, error) {
	return json.Marshal(env.toWire())
}

// DecodeToSimulation parses an envelope bound for the simulation.
// Unknown tags and missing payloads are reported as errors.
func DecodeToSimulation(data []byte) (ToSimulation, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch w.Type {
	case KindNone:
		return Noop{}, nil
	case KindConnect:
		if w.UserID == nil {
			return nil, fmt.Errorf("%w: CONNECT needs userId", ErrMissingPayload)
		}
		return Connect{UserID: *w.UserID}, nil
	case KindDisconnect:
		if w.UserID == nil {
			return nil, fmt.Errorf("%w: DISCONNECT needs userId", ErrMissingPayload)
		}
		return Disconnect{UserID: *w.UserID}, nil
	case KindInternal:
		switch w.Command {
		case CommandNone:
			return Noop{}, nil
		case CommandAddUser:
			if w.User == nil || w.Resources == nil || w.Actions == nil {
				return nil, fmt.Errorf("%w: ADD_USER needs user, resources and actions", ErrMissingPayload)
			}
			return AddUser{User: *w.User, Resources: *w.Resources, Actions: *w.Actions}, nil
		case CommandRemoveUser:
			if w.UserID == nil {
				return nil, fmt.Errorf("%w: REMOVE_USER needs userId", ErrMissingPayload)
			}
			return RemoveUser{UserID: *w.UserID}, nil
		case CommandShutdown:
			return Stop{}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}

// DecodeToClient parses an envelope bound for the connection side
func DecodeToClient(data []byte) (ToClient, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch w.Type {
	case KindNone:
		return Noop{}, nil
	case KindSystem:
		if w.Message == nil {
			return nil, fmt.Errorf("%w: SYSTEM needs message", ErrMissingPayload)
		}
		return System{Message: *w.Message}, nil
	case KindGlobal:
		if w.Message == nil {
			return nil, fmt.Errorf("%w: GLOBAL needs message", ErrMissingPayload)
		}
		return Global{Message: *w.Message}, nil
	case KindInternal:
		switch w.Command {
		case CommandNone:
			return Noop{}, nil
		case CommandShutdown:
			return Shutdown{}, nil
		case CommandSaveSingle:
			if w.Player == nil {
				return nil, fmt.Errorf("%w: SAVE_SINGLE needs player", ErrMissingPayload)
			}
			return SaveSingle{Player: *w.Player}, nil
		case CommandSaveAll:
			// an empty roster encodes without a players field
			return SaveAll{Players: w.Players}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}
