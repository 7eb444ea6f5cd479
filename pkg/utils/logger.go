package utils

import "go.uber.org/zap"

// NewLogger builds the logger shared by the server and the CLI commands.
// Debug mode gives console output at debug level for local corpus work;
// otherwise log lines are JSON at info level.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
