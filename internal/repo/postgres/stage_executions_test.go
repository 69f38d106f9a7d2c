package postgres

import (
	"strings"
	"testing"
)

func TestStageExecutionQueriesRunScoped(t *testing.T) {
	if !strings.Contains(listStageExecutionsByRunQuery, "job_run_id = $1") {
		t.Fatalf("expected job_run_id predicate in list query")
	}
	if !strings.Contains(listStageExecutionsByRunQuery, "ORDER BY ordinal ASC") {
		t.Fatalf("expected declared stage order in list query")
	}
	if !strings.Contains(deleteStageExecutionsByRunQuery, "job_run_id = $1") {
		t.Fatalf("expected job_run_id predicate in delete query")
	}
}

func TestDeliveryInsertIsIdempotent(t *testing.T) {
	if !strings.Contains(insertDeliveryQuery, "ON CONFLICT (delivery_id) DO NOTHING") {
		t.Fatalf("expected conflict clause in delivery insert")
	}
}
