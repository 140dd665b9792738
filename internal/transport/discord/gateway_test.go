package discord

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	rest := func(code int) error {
		return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code, Message: "nope"}}
	}
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(rest(discordgo.ErrCodeUnknownChannel)), chat.ErrUnknownChannel)
	require.ErrorIs(t, mapError(rest(discordgo.ErrCodeUnknownMessage)), chat.ErrUnknownMessage)
	require.ErrorIs(t, mapError(rest(discordgo.ErrCodeUnknownMember)), chat.ErrUnknownMember)
	require.ErrorIs(t, mapError(fmt.Errorf("wrapped: %w", rest(discordgo.ErrCodeUnknownUser))), chat.ErrUnknownMember)

	other := rest(discordgo.ErrCodeMissingPermissions)
	mapped := mapError(other)
	require.Equal(t, other, mapped)
	require.False(t, errors.Is(mapped, chat.ErrUnknownChannel))
}

func TestComputePermissions(t *testing.T) {
	t.Parallel()

	guild := &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Permissions: int64(chat.PermViewChannel | chat.PermSendMessages)},
			{ID: "mods", Permissions: int64(chat.PermManageChannels | chat.PermManageRoles)},
			{ID: "unused", Permissions: int64(chat.PermAdministrator)},
		},
	}

	require.Equal(t, chat.PermViewChannel|chat.PermSendMessages, computePermissions(guild, "u1", nil))

	mod := computePermissions(guild, "u2", []string{"mods"})
	require.True(t, mod.Has(chat.PermManageChannels|chat.PermManageRoles))
	require.False(t, mod.Has(chat.PermAdministrator))

	require.True(t, computePermissions(guild, "owner", nil).Has(chat.PermManageRoles))
}

func TestChannelConversion(t *testing.T) {
	t.Parallel()

	ch := fromChannel(&discordgo.Channel{
		ID:       "c1",
		GuildID:  "g1",
		ParentID: "cat",
		Name:     "session-3",
		Type:     discordgo.ChannelTypeGuildVoice,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Deny: int64(chat.PermViewChannel)},
			{ID: "u1", Type: discordgo.PermissionOverwriteTypeMember, Allow: int64(chat.PermConnect)},
		},
	})
	require.Equal(t, domain.ChannelVoice, ch.Kind)
	require.Equal(t, "cat", ch.ParentID)
	require.Equal(t, []chat.Overwrite{
		{SubjectID: "g1", Target: chat.TargetRole, Deny: chat.PermViewChannel},
		{SubjectID: "u1", Target: chat.TargetMember, Allow: chat.PermConnect},
	}, ch.Overwrites)

	back := toOverwrites(ch.Overwrites)
	require.Len(t, back, 2)
	require.Equal(t, discordgo.PermissionOverwriteTypeMember, back[1].Type)
	require.Equal(t, int64(chat.PermConnect), back[1].Allow)

	require.Equal(t, discordgo.ChannelTypeGuildText, channelType(domain.ChannelText))
}

func TestToEmbeds(t *testing.T) {
	t.Parallel()

	require.Empty(t, toEmbeds(chat.Message{Content: "plain"}))

	embeds := toEmbeds(chat.Message{
		Title:  "Session 3",
		Color:  0x2ecc71,
		Fields: []chat.Field{{Name: "When", Value: "<t:1893610800:F>", Inline: true}},
		Footer: "✅ join",
	})
	require.Len(t, embeds, 1)
	require.Equal(t, "Session 3", embeds[0].Title)
	require.Equal(t, 0x2ecc71, embeds[0].Color)
	require.Len(t, embeds[0].Fields, 1)
	require.True(t, embeds[0].Fields[0].Inline)
	require.Equal(t, "✅ join", embeds[0].Footer.Text)
}
