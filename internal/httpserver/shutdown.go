package httpserver

import "time"

// ShutdownTimeout bounds how long in-flight requests and queued transcode
// jobs get to finish once the process is asked to stop.
var ShutdownTimeout = 30 * time.Second
