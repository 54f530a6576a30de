package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
)

// HashInput collects every field that makes a receipt unique. Two receipts
// with equal HashInput are the same emission and deduplicate to one row.
type HashInput struct {
	Type    Type
	TaskID  *uuid.UUID
	LeaseID *uuid.UUID
	From    principal.Principal
	To      principal.Principal
	Parents []uuid.UUID
	Body    map[string]any
}

// ComputeHash returns the 64-character SHA-256 hex digest of the receipt's
// identifying content. The sorted parents list is part of the digest: without
// it, two discharges with identical bodies against different obligations
// would collide and the second would be silently dropped as a duplicate.
func ComputeHash(in HashInput) (string, error) {
	var bodyHash *string
	if len(in.Body) > 0 {
		canonical, err := CanonicalBody(in.Body)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(canonical)
		digest := hex.EncodeToString(sum[:])
		bodyHash = &digest
	}

	parents := make([]string, 0, len(in.Parents))
	for _, p := range in.Parents {
		parents = append(parents, p.String())
	}
	sort.Strings(parents)

	key := map[string]any{
		"receipt_type": string(in.Type),
		"task_id":      uuidPtrString(in.TaskID),
		"lease_id":     uuidPtrString(in.LeaseID),
		"from_kind":    string(in.From.Kind),
		"from_id":      in.From.ID,
		"to_kind":      string(in.To.Kind),
		"to_id":        in.To.ID,
		"parents":      parents,
		"body_hash":    bodyHash,
	}
	content, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
