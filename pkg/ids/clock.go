package ids

import "time"

func defaultTimeNow() uint64 {
	return uint64(time.Now().UnixNano())
}
