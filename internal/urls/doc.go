// Package urls holds external documentation links shown in CLI output.
package urls
