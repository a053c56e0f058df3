package cortex

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// NowUnixMilli returns the current time as Unix milliseconds.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

var memIDMu sync.Mutex
var lastMemID string

// NewMemoryID derives a memory id from a millisecond timestamp. Two writes
// inside the same millisecond would collide, so a per-process monotonic
// suffix disambiguates: the second id in millisecond T is "T-1", the third
// "T-2", and so on. Ids remain lexically orderable within a process.
func NewMemoryID(ts int64) string {
	memIDMu.Lock()
	defer memIDMu.Unlock()
	id := fmt.Sprintf("%d", ts)
	if lastMemID == id || (len(lastMemID) > len(id) && lastMemID[:len(id)] == id && lastMemID[len(id)] == '-') {
		seq := 1
		if len(lastMemID) > len(id) {
			fmt.Sscanf(lastMemID[len(id)+1:], "%d", &seq)
			seq++
		}
		id = fmt.Sprintf("%d-%d", ts, seq)
	}
	lastMemID = id
	return id
}

// MemoryIDTimestamp extracts the millisecond timestamp a memory id encodes.
// Returns 0 for ids that do not start with a numeric timestamp.
func MemoryIDTimestamp(id string) int64 {
	var ts int64
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < '0' || c > '9' {
			if c == '-' && i > 0 {
				break
			}
			return 0
		}
		ts = ts*10 + int64(c-'0')
	}
	return ts
}
