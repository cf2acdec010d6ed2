// Package storage provides the persistence layer used by arius.
//
// It stores:
//   - The job result ledger written for background task runs
//   - The error log fed by the logging service
//   - Recurring schedule definitions (one row per task reference)
//   - Small key/value settings written by maintenance tasks
package storage
