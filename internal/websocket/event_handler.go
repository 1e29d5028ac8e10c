package websocket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
	"github.com/aidenletourneau/scrapyard_server/internal/transport"
	"golang.org/x/time/rate"
)

// frameHandler processes frames read from one client connection
type frameHandler struct {
	server  *Server
	user    models.UserProfile
	conn    *transport.Conn
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (f *frameHandler) handle(data []byte) {
	if !f.limiter.Allow() {
		f.logger.Warn("client over rate limit, dropping frame")
		f.reply(protocol.FrameError, 0, "slow down")
		return
	}

	req, err := protocol.ParseClientRequest(data)
	if err != nil {
		f.logger.Warn("bad client frame", slog.Any("error", err))
		f.reply(protocol.FrameError, 0, "bad request")
		return
	}

	switch req.Op {
	case protocol.OpSay:
		f.say(req)
	case protocol.OpJoin:
		f.join(req.Channel)
	case protocol.OpLeave:
		f.leave(req.Channel)
	}
}

// say fans text out to a channel the sender belongs to
func (f *frameHandler) say(req protocol.ClientRequest) {
	if req.Channel == models.SystemChannel {
		f.reply(protocol.FrameError, req.Channel, "system channel is read-only")
		return
	}
	if !f.server.reg.IsMember(f.user.ID, req.Channel) {
		f.reply(protocol.FrameError, req.Channel, "not a member of channel")
		return
	}

	msg, err := protocol.ClientMessage{
		Type:    protocol.FrameChat,
		Channel: req.Channel,
		From:    f.user.ID,
		Message: req.Text,
	}.Encode()
	if err != nil {
		f.logger.Error("failed to encode chat message", slog.Any("error", err))
		return
	}
	f.server.reg.SendToChannel(req.Channel, msg)
}

// wellKnown reports whether every connection is subscribed to channelID
// by the server
func wellKnown(channelID int64) bool {
	return channelID == models.SystemChannel || channelID == models.GlobalChannel
}

// join subscribes the user and remembers the membership. The well-known
// channels are never stored as memberships.
func (f *frameHandler) join(channelID int64) {
	if channelID < 0 {
		f.reply(protocol.FrameError, channelID, "invalid channel")
		return
	}
	if wellKnown(channelID) {
		f.reply(protocol.FrameError, channelID, "channel is joined automatically")
		return
	}
	f.server.reg.AddUserToChannel(f.user.ID, channelID)

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := f.server.store.AddChannelMember(ctx, channelID, f.user.ID); err != nil {
		f.logger.Error("failed to persist channel join", slog.Int64("channelID", channelID), slog.Any("error", err))
	}
	f.reply(protocol.FrameSystem, channelID, fmt.Sprintf("joined channel %d", channelID))
}

// leave unsubscribes the user. The well-known channels cannot be left.
func (f *frameHandler) leave(channelID int64) {
	if wellKnown(channelID) {
		f.reply(protocol.FrameError, channelID, "channel cannot be left")
		return
	}
	if !f.server.reg.RemoveUserFromChannel(f.user.ID, channelID) {
		f.reply(protocol.FrameError, channelID, "not a member of channel")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := f.server.store.RemoveChannelMember(ctx, channelID, f.user.ID); err != nil {
		f.logger.Error("failed to persist channel leave", slog.Int64("channelID", channelID), slog.Any("error", err))
	}
	f.reply(protocol.FrameSystem, channelID, fmt.Sprintf("left channel %d", channelID))
}

// reply sends a frame to this connection only
func (f *frameHandler) reply(frameType string, channelID int64, message string) {
	msg, err := protocol.ClientMessage{Type: frameType, Channel: channelID, Message: message}.Encode()
	if err != nil {
		f.logger.Error("failed to encode reply", slog.Any("error", err))
		return
	}
	if err := f.conn.Send(msg); err != nil {
		f.logger.Debug("reply not sent", slog.Any("error", err))
	}
}
