// Package tasks provides the embedded sample task set.
package tasks

import "embed"

// FS contains the built-in tasks, one directory per task.yaml.
//
//go:embed all:glue-code all:api
var FS embed.FS
