// Package processors ships the built-in job processors.
//
// Each family is constructed from its config section and registered on
// the scheduler under a fixed job type:
//
//   - ai.completion: calls a JSON-over-HTTP completion API
//   - file.generate: writes CSV/JSON report files
//   - email.send: delivers mail over SMTP
//   - data.analyze: aggregates tabular rows in memory
//
// Processors validate payloads up front and wrap validation failures
// with jobs.NoRetry; retrying never fixes a malformed payload.
package processors

// Job types served by this package.
const (
	TypeAICompletion = "ai.completion"
	TypeFileGenerate = "file.generate"
	TypeEmailSend    = "email.send"
	TypeDataAnalyze  = "data.analyze"
)
