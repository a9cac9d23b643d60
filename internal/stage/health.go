package stage

// Health is a stage's readiness as shown by `finalcut status` and /api/status.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy reports name as ready.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy reports name as not ready; detail says what is missing.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }
