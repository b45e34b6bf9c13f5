package client

import "time"

const (
	ServiceName       = "cloudconvert"
	DefaultBaseURL    = "https://api.cloudconvert.com/v2"
	DefaultTimeout    = 60 * time.Second
	TransferTimeout   = 5 * time.Minute
	ProcessingTimeout = 5 * time.Minute
	APIVersion        = "v2"
	RequestIDHeader   = "x-request-id"
)

// API endpoints
const (
	EndpointJobs = "/jobs"
	EndpointJob  = "/jobs/{id}"
)
