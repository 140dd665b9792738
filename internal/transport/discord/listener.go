package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
)

// ReactionSink accepts reactions without blocking the gateway loop.
type ReactionSink interface {
	Submit(r chat.Reaction) bool
}

// Listener forwards reaction-add events of served guilds to a sink.
type Listener struct {
	sink   ReactionSink
	serves func(guildID string) bool
	logger *slog.Logger
}

func NewListener(sink ReactionSink, serves func(guildID string) bool, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if serves == nil {
		serves = func(string) bool { return true }
	}
	return &Listener{sink: sink, serves: serves, logger: logger}
}

// Register attaches the listener's handlers to s and returns a func that
// detaches them.
func (l *Listener) Register(s *discordgo.Session) func() {
	removeReaction := s.AddHandler(l.onReactionAdd)
	removeReady := s.AddHandler(l.onReady)
	return func() {
		removeReaction()
		removeReady()
	}
}

func (l *Listener) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	l.logger.Info("discord session ready", "user_id", r.User.ID, "guilds", len(r.Guilds))
}

func (l *Listener) onReactionAdd(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
	r, ok := toReaction(e)
	if !ok || !l.serves(r.GuildID) {
		return
	}
	if !l.sink.Submit(r) {
		l.logger.Warn("reaction dropped", "guild_id", r.GuildID, "message_id", r.MessageID, "user_id", r.UserID)
	}
}

// toReaction ignores reactions outside guilds. Custom emoji are passed in
// their API form.
func toReaction(e *discordgo.MessageReactionAdd) (chat.Reaction, bool) {
	if e == nil || e.MessageReaction == nil || e.GuildID == "" {
		return chat.Reaction{}, false
	}
	emoji := e.Emoji.Name
	if e.Emoji.ID != "" {
		emoji = e.Emoji.APIName()
	}
	return chat.Reaction{
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		MessageID: e.MessageID,
		UserID:    e.UserID,
		Emoji:     emoji,
	}, true
}
