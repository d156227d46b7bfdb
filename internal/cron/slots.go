package cron

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

const (
	slotStepMinutes = 5
	minutesPerDay   = 24 * 60
)

// MinuteValues parses the minute field of a cron expression into the
// set of minute values it can fire on. Supported forms: *, a, a,b,c,
// a-b, */n, a-b/n and a/n; forms combine with commas, so "*/5,2"
// yields {0,2,5,...,55}.
func MinuteValues(cronExpr string) (map[int]bool, error) {
	fields := strings.Fields(cronExpr)
	if len(fields) == 0 {
		return nil, errs.Validation("empty cron expression")
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(fields[0], ",") {
		if err := addMinutePart(values, part); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func addMinutePart(values map[int]bool, part string) error {
	rangePart, step := part, 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		rangePart = part[:i]
		parsed, err := strconv.Atoi(part[i+1:])
		if err != nil || parsed <= 0 {
			return errs.Validation("invalid step in minute field part %q", part)
		}
		step = parsed
	}

	start, end := 0, 59
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		var err1, err2 error
		start, err1 = strconv.Atoi(bounds[0])
		end, err2 = strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return errs.Validation("invalid range in minute field part %q", part)
		}
	default:
		value, err := strconv.Atoi(rangePart)
		if err != nil {
			return errs.Validation("invalid minute field part %q", part)
		}
		start = value
		// A bare value with a step ("a/n") ranges to 59; without a
		// step it is a single value.
		if strings.Contains(part, "/") {
			end = 59
		} else {
			end = value
		}
	}

	if start < 0 || end > 59 || start > end {
		return errs.Validation("minute field part %q out of range", part)
	}
	for v := start; v <= end; v += step {
		values[v] = true
	}
	return nil
}

// SlotOptions adjust the emitted expression and the conflict scan
type SlotOptions struct {
	// ExcludeServerID leaves that server's own backup jobs out of the
	// conflict set, so rescheduling a server ignores its own backups.
	ExcludeServerID string

	// DayFields replaces the trailing "* * *" (day-of-month, month,
	// day-of-week) of the emitted expression.
	DayFields string
}

// serverScopedParams is the minimal params shape shared by jobs that
// target one server
type serverScopedParams struct {
	ServerID string `json:"serverId"`
}

// FindRestartSlot picks a restart schedule that avoids the minutes
// used by active and paused backup jobs. Starting from startHHMM
// rounded down to a 5-minute multiple, it steps forward in 5-minute
// increments (wrapping at midnight) until it finds a minute value no
// backup job fires on; if a full day yields nothing, the start time
// itself is the fallback.
func FindRestartSlot(repo *repository.CronRepository, startHHMM string, opts SlotOptions) (string, error) {
	start, err := parseHHMM(startHHMM)
	if err != nil {
		return "", err
	}

	busy, err := backupMinutes(repo, opts.ExcludeServerID)
	if err != nil {
		return "", err
	}

	dayFields := opts.DayFields
	if dayFields == "" {
		dayFields = "* * *"
	}

	candidate := start - start%slotStepMinutes
	for i := 0; i < minutesPerDay/slotStepMinutes; i++ {
		minute := candidate % 60
		if !busy[minute] {
			return fmt.Sprintf("%d %d %s", minute, candidate/60, dayFields), nil
		}
		candidate = (candidate + slotStepMinutes) % minutesPerDay
	}

	// Every 5-minute slot is taken; fall back to the start time
	return fmt.Sprintf("%d %d %s", start%60, start/60, dayFields), nil
}

// backupMinutes unions the minute values of every active and paused
// backup job, minus those scoped to the excluded server.
func backupMinutes(repo *repository.CronRepository, excludeServerID string) (map[int]bool, error) {
	jobs, err := repo.FindJobs(repository.JobFilter{
		Identifier: "backup",
		Statuses:   []models.CronJobStatus{models.CronJobActive, models.CronJobPaused},
	})
	if err != nil {
		return nil, errs.Internal(err, "failed to load backup jobs")
	}

	busy := make(map[int]bool)
	for _, job := range jobs {
		if excludeServerID != "" {
			var params serverScopedParams
			if json.Unmarshal(job.Params, &params) == nil && params.ServerID == excludeServerID {
				continue
			}
		}
		minutes, err := MinuteValues(job.Cron)
		if err != nil {
			// An unparseable stored expression cannot conflict
			continue
		}
		for minute := range minutes {
			busy[minute] = true
		}
	}
	return busy, nil
}

func parseHHMM(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, errs.Validation("invalid time %q, want HH:MM", value)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, errs.Validation("invalid time %q, want HH:MM", value)
	}
	return hour*60 + minute, nil
}
