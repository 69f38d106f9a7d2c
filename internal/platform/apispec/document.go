// Package apispec carries the OpenAPI contract for the read API and
// enforces it on incoming requests.
package apispec

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Document is the OpenAPI 3 contract served by the read API. It is
// validated at startup; a service that cannot load its own contract does
// not come up.
const Document = `openapi: 3.0.3
info:
  title: mergegate read API
  description: Job runs and their stage executions.
  version: "1.0"
paths:
  /jobs:
    get:
      operationId: listJobRuns
      summary: List job runs, newest first.
      parameters:
        - name: status
          in: query
          schema:
            type: string
            enum: [queued, running, succeeded, failed, timed_out]
        - name: branch
          in: query
          schema:
            type: string
        - name: event_kind
          in: query
          schema:
            type: string
            enum: [pull_request, push]
        - name: limit
          in: query
          schema:
            type: integer
            minimum: 1
            maximum: 500
      responses:
        "200":
          description: Matching job runs.
          content:
            application/json:
              schema:
                type: object
                required: [job_runs]
                properties:
                  job_runs:
                    type: array
                    items:
                      $ref: "#/components/schemas/JobRun"
        "400":
          $ref: "#/components/responses/BadRequest"
  /jobs/{job_id}:
    get:
      operationId: getJobRun
      summary: Fetch one job run.
      parameters:
        - $ref: "#/components/parameters/JobID"
      responses:
        "200":
          description: The job run.
          content:
            application/json:
              schema:
                $ref: "#/components/schemas/JobRun"
        "404":
          $ref: "#/components/responses/NotFound"
  /jobs/{job_id}/stages:
    get:
      operationId: listJobRunStages
      summary: List a run's stage executions in declared order.
      parameters:
        - $ref: "#/components/parameters/JobID"
      responses:
        "200":
          description: Stage executions, ordinal ascending.
          content:
            application/json:
              schema:
                type: object
                required: [job_run_id, stages]
                properties:
                  job_run_id:
                    type: string
                  stages:
                    type: array
                    items:
                      $ref: "#/components/schemas/StageExecution"
        "404":
          $ref: "#/components/responses/NotFound"
components:
  parameters:
    JobID:
      name: job_id
      in: path
      required: true
      schema:
        type: string
        minLength: 1
  responses:
    BadRequest:
      description: The request does not match this contract.
      content:
        application/json:
          schema:
            $ref: "#/components/schemas/Error"
    NotFound:
      description: No such job run.
      content:
        application/json:
          schema:
            $ref: "#/components/schemas/Error"
  schemas:
    Error:
      type: object
      required: [error]
      properties:
        error:
          type: string
        reason:
          type: string
        request_id:
          type: string
    JobRun:
      type: object
      required: [job_run_id, event_kind, repo_url, branch, commit, status, cache_hit, queued_at]
      properties:
        job_run_id:
          type: string
        job_name:
          type: string
        event_id:
          type: string
        event_kind:
          type: string
          enum: [pull_request, push]
        delivery_id:
          type: string
        repo_url:
          type: string
        branch:
          type: string
        commit:
          type: string
        status:
          type: string
          enum: [queued, running, succeeded, failed, timed_out]
        failure_kind:
          type: string
          enum: [stage, timeout]
        failed_stage:
          type: string
        cache_hit:
          type: boolean
        queued_at:
          type: string
          format: date-time
        started_at:
          type: string
          format: date-time
        finished_at:
          type: string
          format: date-time
    StageExecution:
      type: object
      required: [stage_execution_id, job_run_id, name, ordinal, status]
      properties:
        stage_execution_id:
          type: string
        job_run_id:
          type: string
        name:
          type: string
        ordinal:
          type: integer
          minimum: 0
        status:
          type: string
          enum: [running, succeeded, failed, not_run]
        exit_code:
          type: integer
        output_tail:
          type: string
        started_at:
          type: string
          format: date-time
        finished_at:
          type: string
          format: date-time
`

// Load parses and validates the embedded contract.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(Document))
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}
