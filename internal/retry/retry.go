package retry

import (
	"time"

	"github.com/wb-go/wbf/retry"
)

// DefaultStrategy is used for database statements and Kafka I/O.
var DefaultStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    2 * time.Second,
	Backoff:  2.0,
}

// PublishStrategy keeps snapshot publishing short so a stalled broker does
// not back up the event buffer.
var PublishStrategy = retry.Strategy{
	Attempts: 2,
	Delay:    200 * time.Millisecond,
	Backoff:  2.0,
}
