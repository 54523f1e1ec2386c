// Package cronutil evaluates cron expressions for recurring jobs (spec
// §4.5, §6). It is a thin wrapper over robfig/cron/v3's standard parser
// so the rest of the codebase only ever sees NextAfter.
package cronutil

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/monque/monque/internal/errs"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextAfter returns the next instant strictly after from at which expr
// fires (a from that is itself a firing instant is skipped), or an
// *errs.InvalidCronError if expr does not parse.
func NextAfter(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, &errs.InvalidCronError{Expression: expr, Err: err}
	}
	return sched.Next(from), nil
}

// Valid reports whether expr parses as a valid cron expression.
func Valid(expr string) bool {
	_, err := parser.Parse(expr)
	return err == nil
}
