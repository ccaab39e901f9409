package dunning

import "time"

// MaxAttempts bounds how many retries one episode gets.
const MaxAttempts = 3

// retryOffsets holds the fixed schedule in days from the failure: attempt 1
// is immediate, attempt 2 on day 3, attempt 3 on day 7.
var retryOffsets = [MaxAttempts]int{0, 3, 7}

// ScheduleAt returns when the given attempt (1-based) runs for a failure at
// failedAt. Dates landing on a weekend move forward to Monday: recovery
// emails sent on workdays convert measurably better.
func ScheduleAt(failedAt time.Time, attemptNumber int) time.Time {
	if attemptNumber < 1 || attemptNumber > MaxAttempts {
		return time.Time{}
	}
	at := failedAt.AddDate(0, 0, retryOffsets[attemptNumber-1])
	return shiftOffWeekend(at)
}

// shiftOffWeekend moves Saturday forward two days and Sunday forward one so
// the result is the following Monday. Weekdays pass through unchanged.
func shiftOffWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}
