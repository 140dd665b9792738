// Package chattest provides an in-memory chat.Gateway for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// Operation names counted by Gateway.
const (
	OpChannelGet      = "channel.get"
	OpChannelCreate   = "channel.create"
	OpChannelRename   = "channel.rename"
	OpChannelDelete   = "channel.delete"
	OpOverwriteSet    = "overwrite.set"
	OpOverwriteDelete = "overwrite.delete"
	OpMessageSend     = "message.send"
	OpMessageEdit     = "message.edit"
	OpMessageDelete   = "message.delete"
	OpReactionAdd     = "reaction.add"
	OpReactionList    = "reaction.list"
	OpReactionRemove  = "reaction.remove"
	OpMemberGet       = "member.get"
	OpDirectMessage   = "dm.send"
	OpSelfPermissions = "self.permissions"
)

type DM struct {
	UserID  string
	Message chat.Message
}

// Gateway is a concurrency-safe fake of the chat platform.
type Gateway struct {
	mu sync.Mutex

	self  string
	perms chat.Permission

	channels  map[string]chat.Channel
	messages  map[domain.PostRef]chat.Message
	reactions map[domain.PostRef]map[string][]string
	members   map[string]map[string]chat.Member
	dms       []DM
	calls     map[string]int
	seq       int

	// Fail makes the named operation return the error.
	Fail map[string]error
	// FailDM makes direct messages to the given user fail.
	FailDM map[string]error
}

func New(selfID string) *Gateway {
	return &Gateway{
		self:      selfID,
		perms:     chat.PermManageChannels | chat.PermManageRoles | chat.PermViewChannel | chat.PermSendMessages,
		channels:  make(map[string]chat.Channel),
		messages:  make(map[domain.PostRef]chat.Message),
		reactions: make(map[domain.PostRef]map[string][]string),
		members:   make(map[string]map[string]chat.Member),
		calls:     make(map[string]int),
		Fail:      make(map[string]error),
		FailDM:    make(map[string]error),
	}
}

func (g *Gateway) SetSelfPermissions(p chat.Permission) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perms = p
}

// AddMembers registers plain members (no roles) in guildID.
func (g *Gateway) AddMembers(guildID string, userIDs ...string) {
	for _, id := range userIDs {
		g.AddMember(guildID, chat.Member{UserID: id, DisplayName: id})
	}
}

func (g *Gateway) AddMember(guildID string, m chat.Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[guildID] == nil {
		g.members[guildID] = make(map[string]chat.Member)
	}
	g.members[guildID][m.UserID] = m
}

func (g *Gateway) RemoveMember(guildID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members[guildID], userID)
}

// PutChannel stores a channel directly, bypassing call counting.
func (g *Gateway) PutChannel(ch chat.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[ch.ID] = ch
}

func (g *Gateway) ChannelByID(id string) (chat.Channel, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[id]
	return ch, ok
}

// DropChannel simulates an externally deleted channel.
func (g *Gateway) DropChannel(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.channels, id)
}

func (g *Gateway) Message(post domain.PostRef) (chat.Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[post]
	return m, ok
}

func (g *Gateway) MessageCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

// React records a user reaction without counting a call.
func (g *Gateway) React(post domain.PostRef, emoji, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addReaction(post, emoji, userID)
}

func (g *Gateway) Reactors(post domain.PostRef, emoji string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.reactions[post][emoji]...)
}

func (g *Gateway) DirectMessages() []DM {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]DM(nil), g.dms...)
}

func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = make(map[string]int)
}

func (g *Gateway) SelfID() string {
	return g.self
}

func (g *Gateway) DefaultRoleID(guildID string) string {
	return guildID
}

func (g *Gateway) SelfPermissions(_ context.Context, _ string) (chat.Permission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpSelfPermissions); err != nil {
		return 0, err
	}
	return g.perms, nil
}

func (g *Gateway) Channel(_ context.Context, channelID string) (chat.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpChannelGet); err != nil {
		return chat.Channel{}, err
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return chat.Channel{}, chat.ErrUnknownChannel
	}
	ch.Overwrites = append([]chat.Overwrite(nil), ch.Overwrites...)
	return ch, nil
}

func (g *Gateway) CreateChannel(_ context.Context, p chat.CreateChannelParams) (chat.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpChannelCreate); err != nil {
		return chat.Channel{}, err
	}
	ch := chat.Channel{
		ID:         g.nextID("ch"),
		GuildID:    p.GuildID,
		ParentID:   p.ParentID,
		Name:       p.Name,
		Kind:       p.Kind,
		Overwrites: append([]chat.Overwrite(nil), p.Overwrites...),
	}
	g.channels[ch.ID] = ch
	return ch, nil
}

func (g *Gateway) RenameChannel(_ context.Context, channelID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpChannelRename); err != nil {
		return err
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return chat.ErrUnknownChannel
	}
	ch.Name = name
	g.channels[channelID] = ch
	return nil
}

func (g *Gateway) SetOverwrite(_ context.Context, channelID string, ow chat.Overwrite) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpOverwriteSet); err != nil {
		return err
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return chat.ErrUnknownChannel
	}
	for i, existing := range ch.Overwrites {
		if existing.SubjectID == ow.SubjectID {
			ch.Overwrites[i] = ow
			g.channels[channelID] = ch
			return nil
		}
	}
	ch.Overwrites = append(ch.Overwrites, ow)
	g.channels[channelID] = ch
	return nil
}

func (g *Gateway) DeleteOverwrite(_ context.Context, channelID, subjectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpOverwriteDelete); err != nil {
		return err
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return chat.ErrUnknownChannel
	}
	kept := ch.Overwrites[:0]
	for _, ow := range ch.Overwrites {
		if ow.SubjectID != subjectID {
			kept = append(kept, ow)
		}
	}
	ch.Overwrites = kept
	g.channels[channelID] = ch
	return nil
}

func (g *Gateway) DeleteChannel(_ context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpChannelDelete); err != nil {
		return err
	}
	if _, ok := g.channels[channelID]; !ok {
		return chat.ErrUnknownChannel
	}
	delete(g.channels, channelID)
	return nil
}

func (g *Gateway) SendMessage(_ context.Context, channelID string, msg chat.Message) (domain.PostRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpMessageSend); err != nil {
		return domain.PostRef{}, err
	}
	post := domain.PostRef{ChannelID: channelID, MessageID: g.nextID("msg")}
	g.messages[post] = msg
	return post, nil
}

func (g *Gateway) EditMessage(_ context.Context, post domain.PostRef, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpMessageEdit); err != nil {
		return err
	}
	if _, ok := g.messages[post]; !ok {
		return chat.ErrUnknownMessage
	}
	g.messages[post] = msg
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, post domain.PostRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpMessageDelete); err != nil {
		return err
	}
	if _, ok := g.messages[post]; !ok {
		return chat.ErrUnknownMessage
	}
	delete(g.messages, post)
	delete(g.reactions, post)
	return nil
}

func (g *Gateway) AddReaction(_ context.Context, post domain.PostRef, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpReactionAdd); err != nil {
		return err
	}
	if _, ok := g.messages[post]; !ok {
		return chat.ErrUnknownMessage
	}
	g.addReaction(post, emoji, g.self)
	return nil
}

func (g *Gateway) ReactionUsers(_ context.Context, post domain.PostRef, emoji string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpReactionList); err != nil {
		return nil, err
	}
	return append([]string(nil), g.reactions[post][emoji]...), nil
}

func (g *Gateway) RemoveReaction(_ context.Context, post domain.PostRef, emoji, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpReactionRemove); err != nil {
		return err
	}
	users := g.reactions[post][emoji]
	kept := users[:0]
	for _, u := range users {
		if u != userID {
			kept = append(kept, u)
		}
	}
	if g.reactions[post] != nil {
		g.reactions[post][emoji] = kept
	}
	return nil
}

func (g *Gateway) DirectMessage(_ context.Context, userID string, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpDirectMessage); err != nil {
		return err
	}
	if err := g.FailDM[userID]; err != nil {
		return err
	}
	g.dms = append(g.dms, DM{UserID: userID, Message: msg})
	return nil
}

func (g *Gateway) Member(_ context.Context, guildID, userID string) (chat.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.track(OpMemberGet); err != nil {
		return chat.Member{}, err
	}
	m, ok := g.members[guildID][userID]
	if !ok {
		return chat.Member{}, chat.ErrUnknownMember
	}
	return m, nil
}

func (g *Gateway) track(op string) error {
	g.calls[op]++
	return g.Fail[op]
}

func (g *Gateway) addReaction(post domain.PostRef, emoji, userID string) {
	if g.reactions[post] == nil {
		g.reactions[post] = make(map[string][]string)
	}
	for _, u := range g.reactions[post][emoji] {
		if u == userID {
			return
		}
	}
	g.reactions[post][emoji] = append(g.reactions[post][emoji], userID)
}

func (g *Gateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

var _ chat.Gateway = (*Gateway)(nil)
