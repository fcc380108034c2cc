package config

import "time"

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errs []ValidationError

	errs = append(errs, validateSources(c)...)
	errs = append(errs, validateMonitor(&c.Monitor)...)
	errs = append(errs, validateThresholds(c)...)
	errs = append(errs, validateHealth(&c.Health)...)

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

func validateSources(c *Config) []ValidationError {
	var errs []ValidationError

	if c.Polymarket.DataAPIURL == "" {
		errs = append(errs, ValidationError{
			Field:   "polymarket.data_api_url",
			Message: "must not be empty",
		})
	}
	if c.Polymarket.GammaAPIURL == "" {
		errs = append(errs, ValidationError{
			Field:   "polymarket.gamma_api_url",
			Message: "must not be empty",
		})
	}
	if c.Subgraph.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "subgraph.url",
			Message: "must not be empty",
		})
	}
	if c.Ingest.PageSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "ingest.page_size",
			Message: "must be positive",
		})
	}
	return errs
}

func validateMonitor(m *MonitorConfig) []ValidationError {
	var errs []ValidationError

	if m.PollInterval < 1*time.Second {
		errs = append(errs, ValidationError{
			Field:   "monitor.poll_interval",
			Message: "must be at least 1 second",
		})
	}
	return errs
}

func validateThresholds(c *Config) []ValidationError {
	var errs []ValidationError

	check := func(field string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be between 0 and 1",
			})
		}
	}
	check("monitor.anomaly_threshold", c.Monitor.AnomalyThreshold)
	check("monitor.probability_threshold", c.Monitor.ProbabilityThreshold)
	check("discovery.anomaly_threshold", c.Discovery.AnomalyThreshold)
	check("discovery.probability_threshold", c.Discovery.ProbabilityThreshold)
	return errs
}

func validateHealth(h *HealthConfig) []ValidationError {
	var errs []ValidationError

	if h.WindowSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "health.window_size",
			Message: "must be positive",
		})
	}
	if h.HealthyThreshold <= 0 || h.HealthyThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "health.healthy_threshold",
			Message: "must be in (0, 1]",
		})
	}
	return errs
}
