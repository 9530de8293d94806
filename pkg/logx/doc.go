// Package logx configures taskcore's structured logging.
//
// Components take a logx.Logger value (a thin wrapper on zerolog) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - The zero Logger is a silent no-op, handy in tests
package logx
