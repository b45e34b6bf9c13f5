package client

import (
	"context"
	"fmt"
)

const (
	operationCreateJob Operation = "create job"
	operationGetJob    Operation = "get job"
	operationDeleteJob Operation = "delete job"
)

// CreateJob submits a task graph and returns the created job.
func (c *client) CreateJob(ctx context.Context, spec JobSpec) (*JobResponse, error) {
	if !c.Authenticated() {
		return nil, ErrMissingAPIKey
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var result JobResponse
	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetBody(spec).
		SetResult(&result).
		ForceContentType("application/json").
		Post(EndpointJobs)

	if err != nil {
		return nil, fmt.Errorf("create job failed: %w", err)
	}

	requestID := resp.Header().Get(RequestIDHeader)
	result.RequestID = requestID

	if !resp.IsSuccess() {
		return nil, errStatus(operationCreateJob, resp.StatusCode(), resp.Status(), requestID)
	}

	if result.Data == nil || result.Data.ID == "" {
		return nil, fmt.Errorf("%w: create job returned no job id (request-id: %s)", ErrMalformedResponse, normalizeRequestID(requestID))
	}

	return &result, nil
}

// GetJob fetches the current state of a job.
func (c *client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	if !c.Authenticated() {
		return nil, ErrMissingAPIKey
	}

	if id == "" {
		return nil, ErrEmptyJobID
	}

	var result JobResponse
	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&result).
		ForceContentType("application/json").
		Get(EndpointJob)

	if err != nil {
		return nil, fmt.Errorf("get job %s failed: %w", id, err)
	}

	requestID := resp.Header().Get(RequestIDHeader)
	result.RequestID = requestID

	if !resp.IsSuccess() {
		return nil, errStatus(operationGetJob, resp.StatusCode(), resp.Status(), requestID)
	}

	if result.Data == nil || result.Data.Status == "" {
		return nil, fmt.Errorf("%w: job %s has no status (request-id: %s)", ErrMalformedResponse, id, normalizeRequestID(requestID))
	}

	return &result, nil
}

// DeleteJob removes a job and its files from the provider.
func (c *client) DeleteJob(ctx context.Context, id string) error {
	if !c.Authenticated() {
		return ErrMissingAPIKey
	}

	if id == "" {
		return ErrEmptyJobID
	}

	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete(EndpointJob)

	if err != nil {
		return fmt.Errorf("delete job %s failed: %w", id, err)
	}

	if !resp.IsSuccess() {
		return errStatus(operationDeleteJob, resp.StatusCode(), resp.Status(), resp.Header().Get(RequestIDHeader))
	}

	return nil
}
