// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	applog "paulring/internal/log"
)

// LoggingTransport implements the Transport interface by logging messages at
// debug level. It stands in for the websocket transport when the control
// surface is disabled.
type LoggingTransport struct{}

func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Logging broadcasts at debug level")
	return &LoggingTransport{}
}

// Send logs data as JSON. It never fails.
func (*LoggingTransport) Send(data any) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	if b, err := json.Marshal(data); err == nil {
		applog.Debugf("Transport: %s", b)
	} else {
		applog.Debugf("Transport: %T %+v (%v)", data, data, err)
	}
	return nil
}

func (*LoggingTransport) Close() error { return nil }

var _ Transport = (*LoggingTransport)(nil)
