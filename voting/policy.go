package voting

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
)

// Policy decides whether an aggregated vote takes effect. It is applied to
// the proven statement by its consumer and is not part of the proof.
type Policy struct {
	Threshold        uint64
	RequireUnanimity bool
}

// Check returns nil when st, voted by committee c, passes the policy at time now.
func (p Policy) Check(c *Committee, st *types.DecisionState, now uint64) error {
	if p.Threshold == 0 || p.Threshold > uint64(c.Size()) {
		return fmt.Errorf("threshold %d of %d: %w", p.Threshold, c.Size(), rollerrors.ErrInvalidThreshold)
	}
	if st.Decision.DecisionRoot != c.Root() {
		return rollerrors.ErrStaleCommittee
	}
	if st.Decision.Expiry <= now {
		return fmt.Errorf("expiry %d at %d: %w", st.Decision.Expiry, now, rollerrors.ErrDecisionExpired)
	}
	if st.Count < p.Threshold {
		return fmt.Errorf("%d of %d votes: %w", st.Count, p.Threshold, rollerrors.ErrThresholdNotMet)
	}
	if p.RequireUnanimity && st.HashAcc != c.ExpectedHash() {
		return rollerrors.ErrMembershipHashMismatch
	}
	return nil
}
