package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/brain/internal/model"
)

func sampleRecord() model.AuditRecord {
	reason := model.ForcedTokenCap
	return model.AuditRecord{
		ID:            uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		RunID:         uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		SnapshotID:    uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		EngineVersion: "ghost-engine-v1",
		PromptVersion: "ghost-v1",
		RoundsUsed:    1,
		CallsUsed:     5,
		TokensUsed:    3200,
		FinalStatus:   model.FinalForced,
		ForcedReason:  &reason,
		GateHistory: []model.GateEntry{
			{Round: 0, Compliance: model.Fail, FactualConsistency: model.Fail, RiskStability: model.Fail},
			{Round: 1, Compliance: model.Pass, FactualConsistency: model.Fail, RiskStability: model.Pass},
		},
		OutputDigest: DigestOutput("best effort answer"),
		CreatedAt:    time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC),
	}
}

func TestComputeRecordHash_Deterministic(t *testing.T) {
	h1 := ComputeRecordHash(sampleRecord())
	h2 := ComputeRecordHash(sampleRecord())
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if !strings.HasPrefix(h1, "v1:") || len(h1) != len("v1:")+64 {
		t.Fatalf("expected v1-prefixed 64-char hex SHA-256, got %q", h1)
	}
}

func TestComputeRecordHash_IgnoresGovernance(t *testing.T) {
	rec := sampleRecord()
	before := ComputeRecordHash(rec)

	now := time.Now()
	reason, actor := "retention", "admin@example.com"
	rec.LegalHold = true
	rec.DeletedAt, rec.DeletionReason, rec.DeletedBy = &now, &reason, &actor

	if got := ComputeRecordHash(rec); got != before {
		t.Fatal("governance fields must not change the content hash")
	}
}

func TestComputeRecordHash_SensitiveToContent(t *testing.T) {
	base := ComputeRecordHash(sampleRecord())

	mutations := map[string]func(*model.AuditRecord){
		"tokens":       func(r *model.AuditRecord) { r.TokensUsed++ },
		"status":       func(r *model.AuditRecord) { r.FinalStatus = model.FinalConverged; r.ForcedReason = nil },
		"gate":         func(r *model.AuditRecord) { r.GateHistory[1].FactualConsistency = model.Pass },
		"gate dropped": func(r *model.AuditRecord) { r.GateHistory = r.GateHistory[:1] },
		"output":       func(r *model.AuditRecord) { r.OutputDigest = DigestOutput("other") },
		"created":      func(r *model.AuditRecord) { r.CreatedAt = r.CreatedAt.Add(time.Second) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord()
			mutate(&rec)
			if ComputeRecordHash(rec) == base {
				t.Fatalf("changing %s should change the hash", name)
			}
		})
	}
}

func TestComputeRecordHash_MicrosecondPrecision(t *testing.T) {
	rec := sampleRecord()
	h1 := ComputeRecordHash(rec)
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Microsecond)
	if ComputeRecordHash(rec) != h1 {
		t.Fatal("hash must survive the microsecond rounding of database timestamps")
	}
}

func TestVerifyRecordHash(t *testing.T) {
	rec := sampleRecord()
	rec.ContentHash = ComputeRecordHash(rec)
	if !VerifyRecordHash(rec) {
		t.Fatal("verification should succeed for an untouched record")
	}

	rec.CallsUsed = 6
	if VerifyRecordHash(rec) {
		t.Fatal("verification should fail after tampering")
	}

	rec = sampleRecord()
	rec.ContentHash = strings.TrimPrefix(ComputeRecordHash(rec), "v1:")
	if VerifyRecordHash(rec) {
		t.Fatal("unversioned hashes are not accepted")
	}
}
