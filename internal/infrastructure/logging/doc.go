// Package logging wraps log/slog with the service's conventions: every
// record carries service and version fields, output is JSON in
// production and text during development, and the level comes from the
// logging section of config.yaml.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Build one logger at startup and derive scoped loggers from it:
//
//	log := logging.New(cfg.Logging, version)
//	speakerLog := log.With("speaker_id", id)
//	speakerLog.Info("connection established", "attempt", attempt)
//
// Keep secrets out of log fields; speaker credentials and JWT material
// never belong in a record.
package logging
