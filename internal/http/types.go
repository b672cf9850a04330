package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Service string       `json:"service"`
	Version string       `json:"version"`
	Config  HealthConfig `json:"config"`
}

// HealthConfig is the public part of the active configuration.
type HealthConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Bind     string `json:"bind"`
	Port     int    `json:"port"`
}

// StatusResponse is the response body for GET /v1/status.
type StatusResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Registry  RegistryCounts   `json:"registry"`
	Reflexion bool             `json:"reflexion"`
	AutoFix   bool             `json:"autofix"`
	Telemetry *TelemetryStatus `json:"telemetry,omitempty"`
}

// RegistryCounts summarises the observation registry. Counts are -1 when
// the registry could not be read.
type RegistryCounts struct {
	Observations int `json:"observations"`
	SuggestedOps int `json:"suggested_ops"`
}

// TelemetryStatus reports exporter health.
type TelemetryStatus struct {
	Status string `json:"status"` // "healthy" or "degraded"
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
