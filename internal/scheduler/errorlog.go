package scheduler

import (
	"fmt"
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// failure is one entry destined for an area's error_log.
type failure struct {
	source string // "action TIMER_EVERY_X_MINUTES" or "reaction[1] HTTP_REQUEST"
	err    *schema.AreaError
}

func (f failure) String() string {
	return fmt.Sprintf("%s: [%s] %s", f.source, f.err.Code, f.err.Message)
}

func actionSource(name string) string {
	return "action " + name
}

func reactionSource(index int, name string) string {
	return fmt.Sprintf("reaction[%d] %s", index, name)
}

// ledgerOutcome is what a tick decided about an area's error_log and
// failure streak.
type ledgerOutcome struct {
	errorLog *string
	streak   int
}

// applyErrorPolicy folds the failures of one tick into the area's ledger.
//
// Every failure is appended to the log, one per line, in the order it
// happened. Transient failures only count toward the streak until it
// reaches threshold; below that they are left out of the log. A tick
// without transient failures resets the streak. A tick without any
// failure clears the log only when clearOnSuccess is set.
func applyErrorPolicy(area *schema.Area, failures []failure, threshold int, clearOnSuccess bool) ledgerOutcome {
	if len(failures) == 0 {
		if clearOnSuccess {
			return ledgerOutcome{}
		}
		return ledgerOutcome{errorLog: area.ErrorLog}
	}

	streak := 0
	for _, f := range failures {
		if f.err.IsTransient() {
			streak = area.ConsecutiveFailures + 1
			break
		}
	}

	var lines []string
	for _, f := range failures {
		if f.err.IsTransient() && streak < threshold {
			continue
		}
		lines = append(lines, f.String())
	}

	if len(lines) == 0 {
		// Only transient failures, still under the threshold.
		return ledgerOutcome{errorLog: area.ErrorLog, streak: streak}
	}
	msg := strings.Join(lines, "\n")
	return ledgerOutcome{errorLog: &msg, streak: streak}
}

func sameLog(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
