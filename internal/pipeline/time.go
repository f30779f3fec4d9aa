package pipeline

import "time"

// timeNow is a package-level variable for testability.
// Tests can replace this to pin event timestamps.
var timeNow = time.Now
