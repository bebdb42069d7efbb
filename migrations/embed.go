// Package migrations ships the MySQL schema with the binary.
package migrations

import _ "embed"

//go:embed 001_init.sql
var InitSQL string
