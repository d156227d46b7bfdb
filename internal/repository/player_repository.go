package repository

import (
	"errors"
	"time"

	"github.com/mcadmin/mc-admin/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlayerRepository persists player identities, sessions, chat and
// achievements.
type PlayerRepository struct {
	db *gorm.DB
}

func NewPlayerRepository(db *gorm.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// --- identities ---

// UpsertByUUID creates a player for the UUID or overwrites its current name
func (r *PlayerRepository) UpsertByUUID(uuid, name string) (*models.Player, error) {
	var player models.Player
	err := r.db.Where("uuid = ?", uuid).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		player = models.Player{UUID: uuid, CurrentName: name}
		if err := r.db.Create(&player).Error; err != nil {
			return nil, err
		}
		return &player, nil
	}
	if err != nil {
		return nil, err
	}

	if player.CurrentName != name {
		if err := r.db.Model(&player).Update("current_name", name).Error; err != nil {
			return nil, err
		}
		player.CurrentName = name
	}
	return &player, nil
}

// FindByName returns the player currently using the given name, or nil
func (r *PlayerRepository) FindByName(name string) (*models.Player, error) {
	var player models.Player
	err := r.db.Where("current_name = ?", name).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// FindByUUID returns the player with the given dashless UUID, or nil
func (r *PlayerRepository) FindByUUID(uuid string) (*models.Player, error) {
	var player models.Player
	err := r.db.Where("uuid = ?", uuid).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// FindByID returns the player by primary key
func (r *PlayerRepository) FindByID(id uint) (*models.Player, error) {
	var player models.Player
	if err := r.db.First(&player, id).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

// SaveSkin stores the fetched skin and avatar PNGs
func (r *PlayerRepository) SaveSkin(playerID uint, skin, avatar []byte, fetchedAt time.Time) error {
	return r.db.Model(&models.Player{}).Where("id = ?", playerID).Updates(map[string]interface{}{
		"skin_png":         skin,
		"avatar_png":       avatar,
		"last_skin_update": fetchedAt,
	}).Error
}

// --- sessions ---

// OpenSession appends a new open session. Duplicate joins append another
// open row; readers always pick the most recent.
func (r *PlayerRepository) OpenSession(playerID, serverDBID uint, joinedAt time.Time) (*models.PlayerSession, error) {
	session := &models.PlayerSession{
		PlayerID:   playerID,
		ServerDBID: serverDBID,
		JoinedAt:   joinedAt,
	}
	if err := r.db.Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// LatestOpenSession returns the most recent open session for a player on a
// server, or nil when none is open.
func (r *PlayerRepository) LatestOpenSession(playerID, serverDBID uint) (*models.PlayerSession, error) {
	var session models.PlayerSession
	err := r.db.Where("player_id = ? AND server_db_id = ? AND left_at IS NULL", playerID, serverDBID).
		Order("joined_at DESC, id DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CloseSession sets leftAt and the derived whole-second duration
func (r *PlayerRepository) CloseSession(session *models.PlayerSession, leftAt time.Time) error {
	duration := int64(leftAt.Sub(session.JoinedAt).Seconds())
	session.LeftAt = &leftAt
	session.DurationSeconds = &duration
	return r.db.Model(session).Updates(map[string]interface{}{
		"left_at":          leftAt,
		"duration_seconds": duration,
	}).Error
}

// OpenSessionsOnServer lists every open session on one server
func (r *PlayerRepository) OpenSessionsOnServer(serverDBID uint) ([]models.PlayerSession, error) {
	var sessions []models.PlayerSession
	err := r.db.Where("server_db_id = ? AND left_at IS NULL", serverDBID).Find(&sessions).Error
	return sessions, err
}

// OnlineEntry names one player currently online on one server
type OnlineEntry struct {
	ServerID   string
	ServerDBID uint
	PlayerID   uint
	PlayerName string
}

// OpenSessionEntries lists (server, player) pairs with open sessions,
// joined against names and server ids.
func (r *PlayerRepository) OpenSessionEntries() ([]OnlineEntry, error) {
	var entries []OnlineEntry
	err := r.db.Model(&models.PlayerSession{}).
		Select("server_records.server_id AS server_id, player_sessions.server_db_id AS server_db_id, players.id AS player_id, players.current_name AS player_name").
		Joins("JOIN players ON players.id = player_sessions.player_id").
		Joins("JOIN server_records ON server_records.id = player_sessions.server_db_id").
		Where("player_sessions.left_at IS NULL").
		Scan(&entries).Error
	return entries, err
}

// OnlineGroupedByServer derives the online view from open sessions
func (r *PlayerRepository) OnlineGroupedByServer() (map[string][]string, error) {
	entries, err := r.OpenSessionEntries()
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]string)
	for _, e := range entries {
		grouped[e.ServerID] = append(grouped[e.ServerID], e.PlayerName)
	}
	return grouped, nil
}

// SessionsForPlayer returns session history, newest first
func (r *PlayerRepository) SessionsForPlayer(playerID uint, limit int) ([]models.PlayerSession, error) {
	var sessions []models.PlayerSession
	q := r.db.Where("player_id = ?", playerID).Order("joined_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// TotalPlaytimeSeconds sums the closed-session durations for a player
func (r *PlayerRepository) TotalPlaytimeSeconds(playerID uint) (int64, error) {
	var total *int64
	err := r.db.Model(&models.PlayerSession{}).
		Where("player_id = ? AND duration_seconds IS NOT NULL", playerID).
		Select("SUM(duration_seconds)").Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}

// --- chat ---

// InsertChat records one chat message
func (r *PlayerRepository) InsertChat(playerID, serverDBID uint, message string, sentAt time.Time) error {
	return r.db.Create(&models.PlayerChatMessage{
		PlayerID:   playerID,
		ServerDBID: serverDBID,
		Message:    message,
		SentAt:     sentAt,
	}).Error
}

// ChatForPlayer returns chat history, newest first
func (r *PlayerRepository) ChatForPlayer(playerID uint, limit int) ([]models.PlayerChatMessage, error) {
	var messages []models.PlayerChatMessage
	q := r.db.Where("player_id = ?", playerID).Order("sent_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&messages).Error
	return messages, err
}

// --- achievements ---

// InsertAchievement records an achievement, ignoring repeats of the same
// (player, server, name) tuple.
func (r *PlayerRepository) InsertAchievement(playerID, serverDBID uint, name string, earnedAt time.Time) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.PlayerAchievement{
		PlayerID:   playerID,
		ServerDBID: serverDBID,
		Name:       name,
		EarnedAt:   earnedAt,
	}).Error
}

// AchievementsForPlayer returns earned achievements, newest first
func (r *PlayerRepository) AchievementsForPlayer(playerID uint) ([]models.PlayerAchievement, error) {
	var achievements []models.PlayerAchievement
	err := r.db.Where("player_id = ?", playerID).Order("earned_at DESC").Find(&achievements).Error
	return achievements, err
}

// --- heartbeat ---

// UpsertHeartbeat writes the single heartbeat row
func (r *PlayerRepository) UpsertHeartbeat(ts time.Time) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timestamp"}),
	}).Create(&models.SystemHeartbeat{ID: 1, Timestamp: ts}).Error
}

// LastHeartbeat returns the stored heartbeat, or nil on first boot
func (r *PlayerRepository) LastHeartbeat() (*time.Time, error) {
	var hb models.SystemHeartbeat
	err := r.db.First(&hb, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hb.Timestamp, nil
}
