package types

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall supervisor state (stopped, starting, probing, ready, failed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Process ID of the supervised server, when running.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Loopback TCP port the server is bound to, when running.
	// example: 11434
	Port int `json:"port,omitempty" example:"11434"`
	// Base URL of the server API, when running.
	// example: http://127.0.0.1:11434
	BaseURL string `json:"base_url,omitempty"`
	// Required model identifier, if one is configured.
	// example: llama3.2:3b
	Model string `json:"model,omitempty" example:"llama3.2:3b"`
	// Whether the required model's canonical file is present and verified.
	// example: true
	ModelAvailable bool `json:"model_available"`
	// Uptime of the supervised server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds,omitempty" example:"3600"`
	// Last error observed by the supervisor (if any).
	LastError string `json:"last_error,omitempty"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Models discovered in the local store.
	Models []ModelInfo `json:"models"`
}

// PullRequest asks the daemon to download a model.
type PullRequest struct {
	// Model identifier to download.
	// example: llama3.2:3b
	Model string `json:"model" example:"llama3.2:3b"`
}

// EnsureRequest asks the daemon to bring the service up, optionally with a
// required model present.
type EnsureRequest struct {
	// Optional model identifier that must be available after the call.
	// example: llama3.2:3b
	Model string `json:"model,omitempty" example:"llama3.2:3b"`
	// Force a full re-probe even when a recent check succeeded.
	// example: false
	Force bool `json:"force,omitempty"`
}

// JobRequest describes a redaction job to run as a subprocess.
type JobRequest struct {
	// Input document path.
	Input string `json:"input"`
	// Output document path.
	Output string `json:"output"`
	// Optional report file path.
	Report string `json:"report,omitempty"`
	// Redaction mode flag passed to the worker.
	// example: redact
	Mode string `json:"mode,omitempty" example:"redact"`
	// Model identifier to run the job against.
	// example: llama3.2:3b
	Model string `json:"model,omitempty" example:"llama3.2:3b"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: llama3.2:3b
	Error string `json:"error" example:"model not found: llama3.2:3b"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
