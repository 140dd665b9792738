// Package chat declares the chat-platform operations the engine depends on.
// Permission bits follow the Discord layout so adapters can pass them through.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

type Permission int64

const (
	PermAdministrator  Permission = 1 << 3
	PermManageChannels Permission = 1 << 4
	PermViewChannel    Permission = 1 << 10
	PermSendMessages   Permission = 1 << 11
	PermConnect        Permission = 1 << 20
	PermSpeak          Permission = 1 << 21
	PermManageRoles    Permission = 1 << 28
)

func (p Permission) Has(want Permission) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&want == want
}

// Platform "not found" conditions. Adapters must return (or wrap) these.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownMessage = errors.New("unknown message")
	ErrUnknownMember  = errors.New("unknown member")
)

type OverwriteTarget uint8

const (
	TargetRole OverwriteTarget = iota
	TargetMember
)

// Overwrite is a per-subject permission override on a channel.
type Overwrite struct {
	SubjectID string
	Target    OverwriteTarget
	Allow     Permission
	Deny      Permission
}

type Channel struct {
	ID         string
	GuildID    string
	ParentID   string
	Name       string
	Kind       domain.ChannelKind
	Overwrites []Overwrite
}

type CreateChannelParams struct {
	GuildID    string
	ParentID   string
	Name       string
	Kind       domain.ChannelKind
	Overwrites []Overwrite
}

type Member struct {
	UserID      string
	DisplayName string
	RoleIDs     []string
	Permissions Permission
}

func (m Member) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a rich post body (title, fields, footer).
type Message struct {
	Content     string
	Title       string
	Description string
	URL         string
	Color       int
	Fields      []Field
	Footer      string
}

// Reaction is an inbound reaction add on a post.
type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}

func (r Reaction) Post() domain.PostRef {
	return domain.PostRef{ChannelID: r.ChannelID, MessageID: r.MessageID}
}

type Identity interface {
	SelfID() string
	SelfPermissions(ctx context.Context, guildID string) (Permission, error)
	// DefaultRoleID returns the role every guild member holds.
	DefaultRoleID(guildID string) string
}

type Channels interface {
	Channel(ctx context.Context, channelID string) (Channel, error)
	CreateChannel(ctx context.Context, p CreateChannelParams) (Channel, error)
	RenameChannel(ctx context.Context, channelID, name string) error
	SetOverwrite(ctx context.Context, channelID string, ow Overwrite) error
	DeleteOverwrite(ctx context.Context, channelID, subjectID string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

type Messages interface {
	SendMessage(ctx context.Context, channelID string, msg Message) (domain.PostRef, error)
	EditMessage(ctx context.Context, post domain.PostRef, msg Message) error
	DeleteMessage(ctx context.Context, post domain.PostRef) error
	AddReaction(ctx context.Context, post domain.PostRef, emoji string) error
	ReactionUsers(ctx context.Context, post domain.PostRef, emoji string) ([]string, error)
	RemoveReaction(ctx context.Context, post domain.PostRef, emoji, userID string) error
	DirectMessage(ctx context.Context, userID string, msg Message) error
}

type Members interface {
	Member(ctx context.Context, guildID, userID string) (Member, error)
}

// Gateway is the full chat-platform surface used by the engine.
type Gateway interface {
	Identity
	Channels
	Messages
	Members
}

// Mention renders a participant mention.
func Mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// Link renders a jump link to a post.
func Link(guildID string, post domain.PostRef) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, post.ChannelID, post.MessageID)
}
