package project

// Status is the build lifecycle state reported by the backend.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Record is a local mirror of a backend project resource.
type Record struct {
	ID            int64  `json:"id"`
	Name          string `json:"name,omitempty"`
	Status        Status `json:"status"`
	DeploymentURL string `json:"deploymentUrl,omitempty"`
}

// Deployed reports whether the build finished and published a preview URL.
func (r Record) Deployed() bool {
	return r.Status == StatusReady && r.DeploymentURL != ""
}

// Failed reports whether the build ended in error.
func (r Record) Failed() bool {
	return r.Status == StatusError
}
