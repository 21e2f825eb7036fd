package transition

import (
	"github.com/colorfulnotion/nsroll/prover"
)

// NewRegistry compiles the transition circuits plus any extra circuits.
func NewRegistry(sys prover.System, cacheSize int, extra ...prover.Circuit) (*prover.Registry, error) {
	return prover.NewRegistry(sys, cacheSize, append(Circuits(), extra...)...)
}
