// Package router connects gateway traffic to the coach: slash
// commands go to the command registry, everything else becomes a
// conversation turn for the sender's linked identity.
package router

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/actor"
	"github.com/pacerhq/pacer/internal/command"
	"github.com/pacerhq/pacer/internal/gateway"
	"github.com/pacerhq/pacer/internal/state"
)

// MessageRouter routes inbound platform messages.
type MessageRouter struct {
	dispatcher *actor.Dispatcher
	gw         *gateway.Gateway
	store      state.Store
	commands   *command.Registry
	logger     *zap.Logger
}

// New creates a MessageRouter.
func New(dispatcher *actor.Dispatcher, gw *gateway.Gateway, store state.Store,
	commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		dispatcher: dispatcher,
		gw:         gw,
		store:      store,
		commands:   commands,
		logger:     logger,
	}
}

// Handle routes one inbound message.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	// Intercept slash commands before any coaching
	if strings.HasPrefix(msg.Content, "/") {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, "Command error: "+err.Error())
			return
		}
		mr.sendReply(ctx, msg, result.Content)
		return
	}

	// Everything else is a coaching turn for the linked identity.
	identity, err := mr.store.ResolveBinding(ctx, msg.Platform, msg.UserID)
	if err != nil {
		mr.sendReply(ctx, msg, "I don't know who you are yet. Use /link <email> to connect your coaching profile.")
		return
	}

	reply, err := mr.dispatcher.Converse(ctx, identity, msg.Content)
	if err != nil {
		mr.logger.Error("converse failed",
			zap.String("identity", identity), zap.Error(err))
		_, text, _ := actor.Describe(err)
		mr.sendReply(ctx, msg, "Sorry, that didn't work: "+text)
		return
	}

	mr.sendReply(ctx, msg, reply)
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.gw.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
