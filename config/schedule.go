package config

import (
	"strings"

	"emperror.dev/errors"
	"github.com/robfig/cron/v3"
)

// Restart schedules are standard five field cron expressions, or six fields
// when the first one holds the seconds. Descriptors such as "@daily" work too.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleHasSeconds reports whether a restart schedule starts with a seconds
// field.
func ScheduleHasSeconds(expr string) bool {
	return len(strings.Fields(expr)) == 6
}

// ValidateSchedule returns an error if expr is not a usable restart schedule.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return errors.WrapIf(err, "invalid restart_schedule "+expr)
	}
	return nil
}
