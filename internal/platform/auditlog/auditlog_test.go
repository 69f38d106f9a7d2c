package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "dispatcher",
		Action:       "job.finished",
		ResourceType: "job_run",
		ResourceID:   "9b8a7c6d",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
		UserAgent:    "test-agent",
	}
	payloadJSON := []byte(`{"status":"succeeded","cache_hit":true}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnPayload(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "dispatcher",
		Action:       "job.finished",
		ResourceType: "job_run",
		ResourceID:   "9b8a7c6d",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"status":"succeeded"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"status":"failed"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "dispatcher",
		Action:       "job.queued",
		ResourceType: "job_run",
		ResourceID:   "abc",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missingActor := valid
	missingActor.Actor = "  "
	if err := missingActor.Validate(); err == nil {
		t.Fatalf("expected error for blank actor")
	}
}
