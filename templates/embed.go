// Package templates embeds the default configuration file.
package templates

import "embed"

//go:embed kestrel.yaml
var FS embed.FS
