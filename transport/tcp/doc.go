// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp opens the listening socket for the WebSocket server and tunes
// accepted connections. Socket options without a portable net API are set
// through golang.org/x/sys on Linux.
package tcp
