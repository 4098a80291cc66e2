package provider

import (
	"strconv"
	"time"
)

// msToTime converts a Unix millisecond timestamp, the wire format nearly
// every exchange SDK in the pack uses for kline open/close times, to
// time.Time.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
