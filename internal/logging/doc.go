// Package logging provides structured logging for hioload-wsengine.
//
// The package wraps a zap logger with package-level helpers so library code
// and the server share one configuration. Logging is silent until
// Initialize is called with a level or HIOLOAD_LOG_LEVEL is set.
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	logging.LogConnection(id, remoteAddr, "websocket_upgraded",
//	    zap.String("extensions", agreement.String()),
//	)
//
// Debug level adds hex dumps of raw frames (LogRawBytes).
package logging
