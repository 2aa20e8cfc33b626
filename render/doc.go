// Package render provides [jobprogress.Renderer] implementations.
//
//   - [Bar]: a single-line terminal progress bar, redrawn in place on a TTY
//   - [Log]: structured log records through log/slog, for non-interactive output
//   - [Multi]: fans every update out to several renderers
//   - [Nop]: discards everything
package render
