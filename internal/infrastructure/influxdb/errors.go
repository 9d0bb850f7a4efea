package influxdb

import "errors"

// Sentinels, all errors.Is-compatible. ErrDisabled is the expected
// outcome when the config section is switched off; callers treat it as
// "run without telemetry", not as a failure.
var (
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
