// Package dashboard provides the embedded web page for the progress mirror.
//
// The page draws a progress bar with a step counter, percentage and status
// line, kept current from the mirror's Server-Sent Events stream. Embedding
// it keeps "jobprogress serve" a single binary with no asset files.
//
// The assets are served by the server package at the root path ("/").
package dashboard

import "embed"

// Assets is an embedded filesystem containing the progress page.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Progress page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
