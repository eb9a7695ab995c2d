package selector

import "errors"

var (
	// ErrNoTransport 没有可用的传输
	ErrNoTransport = errors.New("selector: no transport configured")

	// ErrThrottled 中继带宽预算不足
	ErrThrottled = errors.New("selector: relay budget exhausted")
)
