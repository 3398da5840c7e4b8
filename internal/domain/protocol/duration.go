package protocol

import (
	"time"

	"cloud.google.com/go/civil"
)

// Duration returns the whole seconds between start and end on date. An end
// earlier than start is read as the next calendar day. Times are combined as
// UTC wall-clock instants so the result never shifts across DST changes.
func Duration(date civil.Date, start, end civil.Time) int64 {
	from := civil.DateTime{Date: date, Time: start}.In(time.UTC)
	to := civil.DateTime{Date: date, Time: end}.In(time.UTC)
	if to.Before(from) {
		to = civil.DateTime{Date: date.AddDays(1), Time: end}.In(time.UTC)
	}
	return int64(to.Sub(from) / time.Second)
}
