package prover

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultVerifyCacheSize = 4096

// Registry holds the verification key of every circuit, compiled once at
// construction. It is read-only afterwards and safe for concurrent use.
// Registry implements Recursion, so merge circuits verify their inputs
// against the same keys.
type Registry struct {
	system   System
	circuits map[string]Circuit
	keys     map[string]*VerificationKey
	cache    *lru.Cache[common.Hash, bool]
}

// NewRegistry compiles circuits with sys. cacheSize bounds the number of
// remembered verification results; zero selects DefaultVerifyCacheSize.
func NewRegistry(sys System, cacheSize int, circuits ...Circuit) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultVerifyCacheSize
	}
	cache, err := lru.New[common.Hash, bool](cacheSize)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		system:   sys,
		circuits: make(map[string]Circuit, len(circuits)),
		keys:     make(map[string]*VerificationKey, len(circuits)),
		cache:    cache,
	}
	for _, c := range circuits {
		if _, dup := r.circuits[c.ID()]; dup {
			return nil, fmt.Errorf("circuit %s registered twice", c.ID())
		}
		vk, err := sys.Compile(c)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", c.ID(), err)
		}
		r.circuits[c.ID()] = c
		r.keys[c.ID()] = vk
		log.Debug(log.ProverModule, "compiled circuit", "circuit", c.ID(), "system", sys.Name(), "vk", vk.Digest().String_short())
	}
	return r, nil
}

func (r *Registry) System() System {
	return r.system
}

func (r *Registry) VerificationKey(circuitID string) (*VerificationKey, bool) {
	vk, ok := r.keys[circuitID]
	return vk, ok
}

// Circuits lists the registered circuit ids in sorted order.
func (r *Registry) Circuits() []string {
	ids := make([]string, 0, len(r.circuits))
	for id := range r.circuits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prove proves public/witness under the named circuit.
func (r *Registry) Prove(ctx context.Context, circuitID string, public []byte, witness any) (*Proof, error) {
	c, ok := r.circuits[circuitID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", circuitID, rollerrors.ErrUnknownCircuit)
	}
	return r.system.Prove(ctx, c, public, witness, r)
}

// Verify checks p against the registered key of its circuit.
func (r *Registry) Verify(p *Proof) error {
	vk, ok := r.keys[p.Circuit]
	if !ok {
		return fmt.Errorf("%s: %w", p.Circuit, rollerrors.ErrUnknownCircuit)
	}
	cacheKey := common.Blake2HashConcat(vk.Digest().Bytes(), p.Digest().Bytes())
	if valid, hit := r.cache.Get(cacheKey); hit {
		if !valid {
			return fmt.Errorf("%s (cached): %w", p.Circuit, rollerrors.ErrProofVerification)
		}
		return nil
	}
	valid, err := r.system.Verify(p, vk)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", p.Circuit, err, rollerrors.ErrProofVerification)
	}
	r.cache.Add(cacheKey, valid)
	if !valid {
		log.Debug(log.ProverModule, "proof rejected", "circuit", p.Circuit, "proof", p.Digest().String_short())
		return fmt.Errorf("%s: %w", p.Circuit, rollerrors.ErrProofVerification)
	}
	return nil
}

func (r *Registry) VerifyInner(p *Proof, allowed ...string) error {
	if p == nil {
		return fmt.Errorf("missing inner proof: %w", rollerrors.ErrProofVerification)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, p.Circuit) {
		return fmt.Errorf("%s: %w", p.Circuit, rollerrors.ErrCircuitNotAllowed)
	}
	return r.Verify(p)
}
