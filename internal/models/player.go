package models

import (
	"time"
)

// Player is a known Minecraft identity. UUIDs are stored as 32 lowercase
// hex characters with dashes stripped.
type Player struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UUID        string `gorm:"size:32;uniqueIndex;not null" json:"uuid"`
	CurrentName string `gorm:"size:64;not null;index" json:"current_name"`

	SkinPNG        []byte     `gorm:"type:blob" json:"-"`
	AvatarPNG      []byte     `gorm:"type:blob" json:"-"`
	LastSkinUpdate *time.Time `json:"last_skin_update,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Player) TableName() string {
	return "players"
}

// PlayerSession is one presence interval on one server. LeftAt == nil
// means the session is still open.
type PlayerSession struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	PlayerID   uint `gorm:"not null;index:idx_sessions_player_server" json:"player_id"`
	ServerDBID uint `gorm:"not null;index:idx_sessions_player_server" json:"server_db_id"`

	JoinedAt        time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`

	Player Player       `gorm:"foreignKey:PlayerID" json:"-"`
	Server ServerRecord `gorm:"foreignKey:ServerDBID" json:"-"`
}

func (PlayerSession) TableName() string {
	return "player_sessions"
}

// PlayerChatMessage is one chat line attributed to a player on a server
type PlayerChatMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlayerID   uint      `gorm:"not null;index" json:"player_id"`
	ServerDBID uint      `gorm:"not null;index" json:"server_db_id"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	SentAt     time.Time `gorm:"not null;index" json:"sent_at"`

	Player Player       `gorm:"foreignKey:PlayerID" json:"-"`
	Server ServerRecord `gorm:"foreignKey:ServerDBID" json:"-"`
}

func (PlayerChatMessage) TableName() string {
	return "player_chat_messages"
}

// PlayerAchievement records a named advancement. The unique index makes a
// repeat grant on the same server a no-op.
type PlayerAchievement struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlayerID   uint      `gorm:"not null;uniqueIndex:idx_achievement_once" json:"player_id"`
	ServerDBID uint      `gorm:"not null;uniqueIndex:idx_achievement_once" json:"server_db_id"`
	Name       string    `gorm:"size:256;not null;uniqueIndex:idx_achievement_once" json:"name"`
	EarnedAt   time.Time `gorm:"not null" json:"earned_at"`

	Player Player       `gorm:"foreignKey:PlayerID" json:"-"`
	Server ServerRecord `gorm:"foreignKey:ServerDBID" json:"-"`
}

func (PlayerAchievement) TableName() string {
	return "player_achievements"
}

// SystemHeartbeat is a single-row table (id = 1) used for crash detection
type SystemHeartbeat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}

func (SystemHeartbeat) TableName() string {
	return "system_heartbeat"
}
