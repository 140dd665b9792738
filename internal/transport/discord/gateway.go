// Package discord adapts a discordgo session to the chat gateway and feeds
// reaction events into the engine.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

const reactionPageSize = 100

// Gateway implements chat.Gateway over the Discord REST API.
type Gateway struct {
	s *discordgo.Session
}

func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{s: s}
}

// NewSession builds a bot session for one shard with the intents the engine
// listens on.
func NewSession(token string, shardID, shardCount int) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.ShardID = shardID
	s.ShardCount = shardCount
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages
	s.StateEnabled = true
	return s, nil
}

// Guilds lists the guilds this session currently sees, for shard.Guard.
func (g *Gateway) Guilds() []string {
	st := g.s.State
	if st == nil {
		return nil
	}
	st.RLock()
	defer st.RUnlock()
	out := make([]string, 0, len(st.Guilds))
	for _, guild := range st.Guilds {
		out = append(out, guild.ID)
	}
	return out
}

func (g *Gateway) SelfID() string {
	if g.s.State == nil || g.s.State.User == nil {
		return ""
	}
	return g.s.State.User.ID
}

// DefaultRoleID is the @everyone role, whose id equals the guild's.
func (g *Gateway) DefaultRoleID(guildID string) string {
	return guildID
}

func (g *Gateway) SelfPermissions(ctx context.Context, guildID string) (chat.Permission, error) {
	m, err := g.Member(ctx, guildID, g.SelfID())
	if err != nil {
		return 0, err
	}
	return m.Permissions, nil
}

func (g *Gateway) Channel(ctx context.Context, channelID string) (chat.Channel, error) {
	ch, err := g.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Channel{}, mapError(err)
	}
	return fromChannel(ch), nil
}

func (g *Gateway) CreateChannel(ctx context.Context, p chat.CreateChannelParams) (chat.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 p.Name,
		Type:                 channelType(p.Kind),
		ParentID:             p.ParentID,
		PermissionOverwrites: toOverwrites(p.Overwrites),
	}
	ch, err := g.s.GuildChannelCreateComplex(p.GuildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Channel{}, mapError(err)
	}
	return fromChannel(ch), nil
}

func (g *Gateway) RenameChannel(ctx context.Context, channelID, name string) error {
	_, err := g.s.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return mapError(err)
}

func (g *Gateway) SetOverwrite(ctx context.Context, channelID string, ow chat.Overwrite) error {
	err := g.s.ChannelPermissionSet(channelID, ow.SubjectID, overwriteType(ow.Target), int64(ow.Allow), int64(ow.Deny), discordgo.WithContext(ctx))
	return mapError(err)
}

func (g *Gateway) DeleteOverwrite(ctx context.Context, channelID, subjectID string) error {
	return mapError(g.s.ChannelPermissionDelete(channelID, subjectID, discordgo.WithContext(ctx)))
}

func (g *Gateway) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := g.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError(err)
}

func (g *Gateway) SendMessage(ctx context.Context, channelID string, msg chat.Message) (domain.PostRef, error) {
	m, err := g.s.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return domain.PostRef{}, mapError(err)
	}
	return domain.PostRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (g *Gateway) EditMessage(ctx context.Context, post domain.PostRef, msg chat.Message) error {
	edit := discordgo.NewMessageEdit(post.ChannelID, post.MessageID).
		SetContent(msg.Content).
		SetEmbeds(toEmbeds(msg))
	_, err := g.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError(err)
}

func (g *Gateway) DeleteMessage(ctx context.Context, post domain.PostRef) error {
	return mapError(g.s.ChannelMessageDelete(post.ChannelID, post.MessageID, discordgo.WithContext(ctx)))
}

func (g *Gateway) AddReaction(ctx context.Context, post domain.PostRef, emoji string) error {
	return mapError(g.s.MessageReactionAdd(post.ChannelID, post.MessageID, emoji, discordgo.WithContext(ctx)))
}

// ReactionUsers pages through every user who reacted with emoji.
func (g *Gateway) ReactionUsers(ctx context.Context, post domain.PostRef, emoji string) ([]string, error) {
	var out []string
	after := ""
	for {
		users, err := g.s.MessageReactions(post.ChannelID, post.MessageID, emoji, reactionPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, u := range users {
			out = append(out, u.ID)
		}
		if len(users) < reactionPageSize {
			return out, nil
		}
		after = users[len(users)-1].ID
	}
}

func (g *Gateway) RemoveReaction(ctx context.Context, post domain.PostRef, emoji, userID string) error {
	return mapError(g.s.MessageReactionRemove(post.ChannelID, post.MessageID, emoji, userID, discordgo.WithContext(ctx)))
}

func (g *Gateway) DirectMessage(ctx context.Context, userID string, msg chat.Message) error {
	ch, err := g.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	_, err = g.s.ChannelMessageSendComplex(ch.ID, toMessageSend(msg), discordgo.WithContext(ctx))
	return mapError(err)
}

// Member resolves guild-level permissions from the member's roles, since the
// REST member object carries none.
func (g *Gateway) Member(ctx context.Context, guildID, userID string) (chat.Member, error) {
	m, err := g.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Member{}, mapError(err)
	}
	guild, err := g.guild(ctx, guildID)
	if err != nil {
		return chat.Member{}, err
	}
	name := m.Nick
	if name == "" && m.User != nil {
		name = m.User.Username
	}
	return chat.Member{
		UserID:      userID,
		DisplayName: name,
		RoleIDs:     m.Roles,
		Permissions: computePermissions(guild, userID, m.Roles),
	}, nil
}

func (g *Gateway) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g.s.State != nil {
		if guild, err := g.s.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
			return guild, nil
		}
	}
	guild, err := g.s.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return guild, nil
}

func computePermissions(guild *discordgo.Guild, userID string, memberRoles []string) chat.Permission {
	if guild.OwnerID != "" && guild.OwnerID == userID {
		return chat.PermAdministrator
	}
	held := map[string]struct{}{guild.ID: {}}
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}
	var perms int64
	for _, role := range guild.Roles {
		if _, ok := held[role.ID]; ok {
			perms |= role.Permissions
		}
	}
	return chat.Permission(perms)
}

// mapError turns Discord "unknown ..." responses into chat sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", chat.ErrUnknownChannel, err)
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %w", chat.ErrUnknownMessage, err)
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %w", chat.ErrUnknownMember, err)
		}
	}
	return err
}

func channelType(kind domain.ChannelKind) discordgo.ChannelType {
	if kind == domain.ChannelVoice {
		return discordgo.ChannelTypeGuildVoice
	}
	return discordgo.ChannelTypeGuildText
}

func overwriteType(t chat.OverwriteTarget) discordgo.PermissionOverwriteType {
	if t == chat.TargetMember {
		return discordgo.PermissionOverwriteTypeMember
	}
	return discordgo.PermissionOverwriteTypeRole
}

func toOverwrites(in []chat.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, ow := range in {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    ow.SubjectID,
			Type:  overwriteType(ow.Target),
			Allow: int64(ow.Allow),
			Deny:  int64(ow.Deny),
		})
	}
	return out
}

func fromChannel(ch *discordgo.Channel) chat.Channel {
	kind := domain.ChannelText
	if ch.Type == discordgo.ChannelTypeGuildVoice {
		kind = domain.ChannelVoice
	}
	out := chat.Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		ParentID: ch.ParentID,
		Name:     ch.Name,
		Kind:     kind,
	}
	for _, ow := range ch.PermissionOverwrites {
		target := chat.TargetRole
		if ow.Type == discordgo.PermissionOverwriteTypeMember {
			target = chat.TargetMember
		}
		out.Overwrites = append(out.Overwrites, chat.Overwrite{
			SubjectID: ow.ID,
			Target:    target,
			Allow:     chat.Permission(ow.Allow),
			Deny:      chat.Permission(ow.Deny),
		})
	}
	return out
}

func toMessageSend(msg chat.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: msg.Content,
		Embeds:  toEmbeds(msg),
	}
}

// toEmbeds renders the rich part of msg as a single embed, or none when
// msg is plain content.
func toEmbeds(msg chat.Message) []*discordgo.MessageEmbed {
	if msg.Title == "" && msg.Description == "" && len(msg.Fields) == 0 && msg.Footer == "" {
		return []*discordgo.MessageEmbed{}
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	return []*discordgo.MessageEmbed{embed}
}
