// Package tasks is the builtin "arius.tasks" task module: the service
// heartbeat, ledger and error-log retention, and the release check.
package tasks
