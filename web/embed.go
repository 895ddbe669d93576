package web

import "embed"

// FS contains the embedded status page assets.
//
//go:embed *.html *.css *.js
var FS embed.FS
