// Package principal defines the actors that author and receive receipts and
// create or claim tasks. A principal is a tagged pair, not a type hierarchy:
// worker-vs-agent is a discriminant on Kind.
package principal

import (
	"fmt"
	"unicode"
)

// Kind discriminates the role a principal plays.
type Kind string

const (
	KindAgent  Kind = "agent"
	KindWorker Kind = "worker"
	KindSystem Kind = "system"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAgent, KindWorker, KindSystem:
		return true
	default:
		return false
	}
}

const maxIDLength = 255

// Principal identifies an actor as a (kind, id) pair.
type Principal struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Agent returns an agent principal.
func Agent(id string) Principal { return Principal{Kind: KindAgent, ID: id} }

// Worker returns a worker principal.
func Worker(id string) Principal { return Principal{Kind: KindWorker, ID: id} }

// System returns a system principal. The substrate itself emits receipts as
// System("asyncgate").
func System(id string) Principal { return Principal{Kind: KindSystem, ID: id} }

// Gate is the substrate's own identity on the receipt ledger.
var Gate = System("asyncgate")

// Validate checks the kind tag and that the id is a printable string of
// bounded length.
func (p Principal) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("principal kind %q is not one of agent, worker, system", p.Kind)
	}
	if p.ID == "" {
		return fmt.Errorf("principal id is empty")
	}
	if len(p.ID) > maxIDLength {
		return fmt.Errorf("principal id exceeds %d characters", maxIDLength)
	}
	for _, r := range p.ID {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("principal id contains non-printable character %q", r)
		}
	}
	return nil
}

// Equal reports whether two principals identify the same actor.
func (p Principal) Equal(other Principal) bool {
	return p.Kind == other.Kind && p.ID == other.ID
}

func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}
