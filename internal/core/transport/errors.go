package transport

import "errors"

// ErrNoTransport 配置未启用任何传输
var ErrNoTransport = errors.New("transport: no transport enabled")
