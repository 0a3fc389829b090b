package models

import "time"

// Message is the platform-neutral view of an inbound guild message.
// ChannelID and ID together address the message for deletion.
type Message struct {
	ID                 string
	GuildID            string
	ChannelID          string
	AuthorID           string
	AuthorRoleIDs      []string
	AuthorCanBypass    bool
	Content            string
	MentionedUserCount int
	MentionedRoleCount int
	CreatedAt          time.Time
}

func (m Message) Key() string {
	return UserKey(m.GuildID, m.AuthorID)
}

func UserKey(guildID, userID string) string {
	return guildID + ":" + userID
}
