package domain

// VoiceMode decides who besides the roster may join an event's voice channel.
type VoiceMode string

const (
	VoiceAttendees      VoiceMode = "attendees"
	VoiceEveryoneSpeak  VoiceMode = "everyone_speak"
	VoiceEveryoneListen VoiceMode = "everyone_listen"
)

func (m VoiceMode) Valid() bool {
	switch m {
	case VoiceAttendees, VoiceEveryoneSpeak, VoiceEveryoneListen:
		return true
	}
	return false
}

// GuildPolicy is the per-guild configuration consumed by the engine.
type GuildPolicy struct {
	GuildID                          string    `yaml:"-" json:"guild_id"`
	ApproverRoleID                   string    `yaml:"approver_role_id" json:"approver_role_id"`
	StandbyQueuing                   bool      `yaml:"standby_queuing" json:"standby_queuing"`
	EventRequiresApprover            bool      `yaml:"event_requires_approver" json:"event_requires_approver"`
	RequireCharacterForEvent         bool      `yaml:"require_character_for_event" json:"require_character_for_event"`
	RequireCampaignCharacterForEvent bool      `yaml:"require_campaign_character_for_event" json:"require_campaign_character_for_event"`
	PlanningCategoryID               string    `yaml:"planning_category_id" json:"planning_category_id"`
	VoiceCategoryID                  string    `yaml:"voice_category_id" json:"voice_category_id"`
	VoicePermissionMode              VoiceMode `yaml:"voice_permission_mode" json:"voice_permission_mode"`
	RetentionDays                    int       `yaml:"retention_days" json:"retention_days"`
	AnnouncementChannelID            string    `yaml:"announcement_channel_id" json:"announcement_channel_id"`
	AutoDeletePosts                  bool      `yaml:"auto_delete_posts" json:"auto_delete_posts"`
}

// UserProfile holds per-guild participant preferences.
type UserProfile struct {
	GuildID            string
	UserID             string
	Timezone           string
	DefaultCharacterID string
}

// CharacterRef is an approved character as returned by the character registry.
type CharacterRef struct {
	ID       string
	Name     string
	Campaign string
}
