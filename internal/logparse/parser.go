// Package logparse turns raw server log lines into typed events using a
// hot-reloadable regex bank stored in the log_parser dynamic config
// module.
package logparse

import (
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/mcadmin/mc-admin/internal/dynconfig"
	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ModuleName is the dynamic config module holding the pattern bank
const ModuleName = "log_parser"

// notSecureMarker prefixes chat lines on servers with enforce-secure-profile
// disabled
const notSecureMarker = "[Not Secure] "

// Config is the stored pattern bank. Patterns capture named groups:
// name, uuid, reason, message, achievement.
type Config struct {
	UuidPatterns        []string `json:"uuid_patterns"`
	JoinPattern         string   `json:"join_pattern"`
	LeavePattern        string   `json:"leave_pattern"`
	ChatPattern         string   `json:"chat_pattern"`
	AchievementPatterns []string `json:"achievement_patterns"`
	ServerStopPattern   string   `json:"server_stop_pattern"`
}

// DefaultConfig matches the vanilla server log format
func DefaultConfig() Config {
	return Config{
		UuidPatterns: []string{
			`UUID of player (?P<name>\S+) is (?P<uuid>[0-9a-fA-F-]{32,36})`,
		},
		JoinPattern:  `(?P<name>[A-Za-z0-9_]+)\[[^\]]*\] logged in with entity`,
		LeavePattern: `(?P<name>[A-Za-z0-9_]+) lost connection: (?P<reason>.*)`,
		ChatPattern:  `<(?P<name>[A-Za-z0-9_]+)> (?P<message>.*)`,
		AchievementPatterns: []string{
			`(?P<name>[A-Za-z0-9_]+) has made the advancement \[(?P<achievement>[^\]]+)\]`,
			`(?P<name>[A-Za-z0-9_]+) has completed the challenge \[(?P<achievement>[^\]]+)\]`,
			`(?P<name>[A-Za-z0-9_]+) has reached the goal \[(?P<achievement>[^\]]+)\]`,
		},
		ServerStopPattern: `Stopping the server`,
	}
}

// patternSet is a compiled Config, swapped atomically on reload
type patternSet struct {
	uuid        []*regexp.Regexp
	join        *regexp.Regexp
	leave       *regexp.Regexp
	chat        *regexp.Regexp
	achievement []*regexp.Regexp
	stop        *regexp.Regexp
}

// Parser applies the pattern bank to log lines. Parse is lock-free
// against an atomic snapshot of the compiled patterns.
type Parser struct {
	patterns atomic.Pointer[patternSet]
}

// NewParser compiles an initial configuration
func NewParser(cfg Config) (*Parser, error) {
	p := &Parser{}
	if err := p.Reload(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// NewParserFromDB loads the pattern bank from the database, seeding
// defaults on first run, and subscribes to config changes.
func NewParserFromDB(db *gorm.DB) (*Parser, *dynconfig.Module[Config], error) {
	module, err := dynconfig.NewModule(db, ModuleName, DefaultConfig())
	if err != nil {
		return nil, nil, err
	}

	parser, err := NewParser(module.Get())
	if err != nil {
		return nil, nil, err
	}

	module.Subscribe(func(cfg Config) {
		if err := parser.Reload(cfg); err != nil {
			logger.Error("rejected log parser config update", err, map[string]interface{}{
				"module": ModuleName,
			})
		}
	})
	return parser, module, nil
}

// Reload compiles and swaps in a new pattern bank. A compile error
// leaves the previous bank in place.
func (p *Parser) Reload(cfg Config) error {
	set := &patternSet{}
	var err error

	for _, pattern := range cfg.UuidPatterns {
		re, compileErr := regexp.Compile(pattern)
		if compileErr != nil {
			return errs.Validation("invalid uuid pattern %q: %v", pattern, compileErr)
		}
		set.uuid = append(set.uuid, re)
	}
	if set.join, err = compileOptional(cfg.JoinPattern, "join_pattern"); err != nil {
		return err
	}
	if set.leave, err = compileOptional(cfg.LeavePattern, "leave_pattern"); err != nil {
		return err
	}
	if set.chat, err = compileOptional(cfg.ChatPattern, "chat_pattern"); err != nil {
		return err
	}
	for _, pattern := range cfg.AchievementPatterns {
		re, compileErr := regexp.Compile(pattern)
		if compileErr != nil {
			return errs.Validation("invalid achievement pattern %q: %v", pattern, compileErr)
		}
		set.achievement = append(set.achievement, re)
	}
	if set.stop, err = compileOptional(cfg.ServerStopPattern, "server_stop_pattern"); err != nil {
		return err
	}

	p.patterns.Store(set)
	return nil
}

func compileOptional(pattern, field string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errs.Validation("invalid %s %q: %v", field, pattern, err)
	}
	return re, nil
}

// Parse evaluates the bank against one line in fixed order: UUID, join,
// leave, chat, achievement, server stop. The first match wins; a line
// matching nothing returns nil.
func (p *Parser) Parse(server, line string, at time.Time) events.Event {
	set := p.patterns.Load()

	for _, re := range set.uuid {
		if groups := match(re, line); groups != nil {
			return events.PlayerUuidDiscovered{
				Server:     server,
				PlayerName: groups["name"],
				UUID:       strings.ReplaceAll(groups["uuid"], "-", ""),
				Timestamp:  at,
			}
		}
	}

	if groups := match(set.join, line); groups != nil {
		return events.PlayerJoined{
			Server:     server,
			PlayerName: groups["name"],
			Timestamp:  at,
		}
	}

	if groups := match(set.leave, line); groups != nil {
		return events.PlayerLeft{
			Server:     server,
			PlayerName: groups["name"],
			Reason:     groups["reason"],
			Timestamp:  at,
		}
	}

	if groups := match(set.chat, stripNotSecure(line)); groups != nil {
		return events.PlayerChat{
			Server:     server,
			PlayerName: groups["name"],
			Message:    groups["message"],
			Timestamp:  at,
		}
	}

	for _, re := range set.achievement {
		if groups := match(re, line); groups != nil {
			return events.PlayerAchievement{
				Server:      server,
				PlayerName:  groups["name"],
				Achievement: groups["achievement"],
				Timestamp:   at,
			}
		}
	}

	if groups := match(set.stop, line); groups != nil {
		return events.ServerStopping{
			Server:    server,
			Timestamp: at,
		}
	}

	return nil
}

// stripNotSecure removes the marker only where the server emits it: at
// the start of the message body, directly after the log prefix. The
// same literal inside a player's chat text stays untouched.
func stripNotSecure(line string) string {
	idx := strings.Index(line, notSecureMarker)
	if idx < 0 {
		return line
	}
	if idx > 0 && !strings.HasSuffix(line[:idx], "]: ") {
		return line
	}
	return line[:idx] + line[idx+len(notSecureMarker):]
}

// match returns named capture groups, or nil when re is nil or the line
// does not match
func match(re *regexp.Regexp, line string) map[string]string {
	if re == nil {
		return nil
	}
	submatch := re.FindStringSubmatch(line)
	if submatch == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(submatch) {
			groups[name] = submatch[i]
		}
	}
	return groups
}
