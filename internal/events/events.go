package events

import (
	"time"
)

// Kind identifies an event variant
type Kind string

const (
	KindPlayerUuidDiscovered      Kind = "player.uuid_discovered"
	KindPlayerJoined              Kind = "player.joined"
	KindPlayerLeft                Kind = "player.left"
	KindPlayerChat                Kind = "player.chat"
	KindPlayerAchievement         Kind = "player.achievement"
	KindServerStopping            Kind = "server.stopping"
	KindPlayerSkinUpdateRequested Kind = "player.skin_update_requested"
	KindSystemCrashDetected       Kind = "system.crash_detected"
)

// Event is the closed set of things the dispatcher carries. Every variant
// is a plain struct; there is no payload map.
type Event interface {
	EventKind() Kind
	EventServer() string
	EventTime() time.Time
}

// PlayerUuidDiscovered is emitted when the server log reveals a
// name-to-UUID binding. UUID is 32 hex characters, dashes stripped.
type PlayerUuidDiscovered struct {
	Server     string
	PlayerName string
	UUID       string
	Timestamp  time.Time
}

func (e PlayerUuidDiscovered) EventKind() Kind       { return KindPlayerUuidDiscovered }
func (e PlayerUuidDiscovered) EventServer() string   { return e.Server }
func (e PlayerUuidDiscovered) EventTime() time.Time  { return e.Timestamp }

// PlayerJoined is emitted when a player logs in
type PlayerJoined struct {
	Server     string
	PlayerName string
	Timestamp  time.Time
}

func (e PlayerJoined) EventKind() Kind      { return KindPlayerJoined }
func (e PlayerJoined) EventServer() string  { return e.Server }
func (e PlayerJoined) EventTime() time.Time { return e.Timestamp }

// PlayerLeft is emitted when a player disconnects. Synthetic leaves (crash
// recovery, RCON reconciliation) carry an explanatory Reason.
type PlayerLeft struct {
	Server     string
	PlayerName string
	Reason     string
	Timestamp  time.Time
}

func (e PlayerLeft) EventKind() Kind      { return KindPlayerLeft }
func (e PlayerLeft) EventServer() string  { return e.Server }
func (e PlayerLeft) EventTime() time.Time { return e.Timestamp }

// PlayerChat is one chat message
type PlayerChat struct {
	Server     string
	PlayerName string
	Message    string
	Timestamp  time.Time
}

func (e PlayerChat) EventKind() Kind      { return KindPlayerChat }
func (e PlayerChat) EventServer() string  { return e.Server }
func (e PlayerChat) EventTime() time.Time { return e.Timestamp }

// PlayerAchievement is an earned advancement
type PlayerAchievement struct {
	Server      string
	PlayerName  string
	Achievement string
	Timestamp   time.Time
}

func (e PlayerAchievement) EventKind() Kind      { return KindPlayerAchievement }
func (e PlayerAchievement) EventServer() string  { return e.Server }
func (e PlayerAchievement) EventTime() time.Time { return e.Timestamp }

// ServerStopping is emitted when the game server announces shutdown
type ServerStopping struct {
	Server    string
	Timestamp time.Time
}

func (e ServerStopping) EventKind() Kind      { return KindServerStopping }
func (e ServerStopping) EventServer() string  { return e.Server }
func (e ServerStopping) EventTime() time.Time { return e.Timestamp }

// PlayerSkinUpdateRequested asks the skin updater to refresh a player's
// skin. Fired after a join once the identity is resolved.
type PlayerSkinUpdateRequested struct {
	PlayerID   uint
	UUID       string
	PlayerName string
	Timestamp  time.Time
}

func (e PlayerSkinUpdateRequested) EventKind() Kind      { return KindPlayerSkinUpdateRequested }
func (e PlayerSkinUpdateRequested) EventServer() string  { return "" }
func (e PlayerSkinUpdateRequested) EventTime() time.Time { return e.Timestamp }

// SystemCrashDetected is emitted once at boot when the heartbeat gap
// exceeds the crash threshold.
type SystemCrashDetected struct {
	LastHeartbeat  time.Time
	ElapsedSeconds int64
	Timestamp      time.Time
}

func (e SystemCrashDetected) EventKind() Kind      { return KindSystemCrashDetected }
func (e SystemCrashDetected) EventServer() string  { return "" }
func (e SystemCrashDetected) EventTime() time.Time { return e.Timestamp }
