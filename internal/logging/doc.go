// Package logging provides structured logging for opsdesk.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Output to stdout or an append-only file (the console logs to a file so
//     it never draws over the terminal UI)
//   - Automatic context field injection (trace_id, operator, conversation, request)
//   - Encoder-level secret redaction
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg)
//	defer logger.Sync()
//
//	ctx = logging.WithOperator(ctx, "A1")
//	ctx = logging.WithConversation(ctx, "C7")
//	logger.Info(ctx, "room joined", zap.String("room", "C7"))
//
// Output includes automatic correlation:
//
//	{"ts":"2026-10-19T10:15:30Z","level":"info","msg":"room joined",
//	 "operator.id":"A1","conversation.id":"C7","room":"C7"}
//
// # Secret Redaction
//
// Secrets are redacted at two layers:
//  1. Domain primitives (config.Secret type, Secret field helper)
//  2. Encoder-level field name and pattern filtering
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.AssertLogged(t, zapcore.InfoLevel, "room joined")
//	tl.AssertField(t, "room joined", "room", "C7")
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
