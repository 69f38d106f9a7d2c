package auth

import (
	"net/http"
	"testing"
	"time"
)

func TestRequestSignature_Verify(t *testing.T) {
	secret := "test-secret"
	ts := "1700000000"
	digest := BodyDigest([]byte(`{"status":"succeeded"}`))

	sig, err := ComputeRequestSignature(secret, ts, http.MethodPost, "/gate/verdicts", digest)
	if err != nil {
		t.Fatalf("ComputeRequestSignature() err=%v", err)
	}
	if err := VerifyRequestSignature(secret, ts, http.MethodPost, "/gate/verdicts", digest, sig); err != nil {
		t.Fatalf("VerifyRequestSignature() err=%v", err)
	}
	if err := VerifyRequestSignature(secret, ts, http.MethodGet, "/gate/verdicts", digest, sig); err == nil {
		t.Fatalf("expected signature verification to fail when method changes")
	}

	otherDigest := BodyDigest([]byte(`{"status":"failed"}`))
	if err := VerifyRequestSignature(secret, ts, http.MethodPost, "/gate/verdicts", otherDigest, sig); err == nil {
		t.Fatalf("expected signature verification to fail when body changes")
	}
}

func TestRequestTimestamp_Verify(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	if err := VerifyRequestTimestamp("1700000000", now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyRequestTimestamp() err=%v", err)
	}
	if err := VerifyRequestTimestamp("1690000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected stale timestamp to be rejected")
	}
	if err := VerifyRequestTimestamp("not-a-number", now, 5*time.Minute); err == nil {
		t.Fatalf("expected malformed timestamp to be rejected")
	}
}
