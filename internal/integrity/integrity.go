// Package integrity provides tamper-evident hashing for deliberation audit
// records. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/brain/internal/model"
)

// Hash version prefix. Bumping it lets old records keep verifying under the
// encoding they were written with.
const hashV1Prefix = "v1:"

// ComputeRecordHash produces a versioned SHA-256 hex digest over the
// immutable fields of rec. Governance fields (legal hold, deletion metadata)
// and the hash itself are excluded because they may change after insert.
func ComputeRecordHash(rec model.AuditRecord) string {
	return hashV1Prefix + computeV1Hash(rec)
}

// VerifyRecordHash reports whether rec.ContentHash matches its fields.
func VerifyRecordHash(rec model.AuditRecord) bool {
	if !strings.HasPrefix(rec.ContentHash, hashV1Prefix) {
		return false
	}
	return rec.ContentHash == hashV1Prefix+computeV1Hash(rec)
}

// DigestOutput returns the SHA-256 hex digest of a deliberation answer. The
// audit trail stores the digest, not the text.
func DigestOutput(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// computeV1Hash writes each field as a 4-byte big-endian length prefix
// followed by its bytes, so free text can never collide across fields.
func computeV1Hash(rec model.AuditRecord) string {
	h := sha256.New()
	writeField(h, rec.ID.String())
	writeField(h, rec.RunID.String())
	writeField(h, rec.SnapshotID.String())
	writeField(h, rec.EngineVersion)
	writeField(h, rec.PromptVersion)
	writeField(h, strconv.Itoa(rec.RoundsUsed))
	writeField(h, strconv.Itoa(rec.CallsUsed))
	writeField(h, strconv.Itoa(rec.TokensUsed))
	writeField(h, string(rec.FinalStatus))
	forced := ""
	if rec.ForcedReason != nil {
		forced = string(*rec.ForcedReason)
	}
	writeField(h, forced)
	abort := ""
	if rec.AbortReason != nil {
		abort = string(*rec.AbortReason)
	}
	writeField(h, abort)
	writeField(h, strconv.Itoa(len(rec.GateHistory)))
	for _, g := range rec.GateHistory {
		writeField(h, strconv.Itoa(g.Round))
		writeField(h, string(g.Compliance))
		writeField(h, string(g.FactualConsistency))
		writeField(h, string(g.RiskStability))
	}
	writeField(h, rec.OutputDigest)
	writeField(h, rec.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // audit fields are short
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}
