package rollerrors

import (
	"errors"
	"strings"
)

// Validation (V) Errors. These never abort a batch: the offending operation is
// proven through the reject circuit instead.
var (
	ErrVBadSignature       = errors.New("V1|BadSignature: Signature does not recover the identity recorded for the key.")
	ErrVKeyExists          = errors.New("V2|KeyExists: Add targets a key that already holds a record.")
	ErrVKeyAbsent          = errors.New("V3|KeyAbsent: Operation targets a key that holds no record.")
	ErrVRecordExpired      = errors.New("V4|RecordExpired: Record expiry is not after the batch timestamp.")
	ErrVExpiryNotExtended  = errors.New("V5|ExpiryNotExtended: Extend must strictly increase the record expiry.")
	ErrVFieldsChanged      = errors.New("V6|FieldsChanged: Extend may only change the record expiry.")
	ErrVOldRecordMismatch  = errors.New("V7|OldRecordMismatch: Supplied old record does not hash to the stored value.")
	ErrVMissingOldRecord   = errors.New("V8|MissingOldRecord: No preimage is known for the stored value.")
	ErrVUnauthorized       = errors.New("V9|Unauthorized: Removing an unexpired record requires the owner signature.")
	ErrVMalformedOperation = errors.New("V10|MalformedOperation: Operation record is malformed.")
	ErrVKeyOutOfRange      = errors.New("V11|KeyOutOfRange: Operation key does not fit the map depth.")
)

// Chain continuity (C) Errors
var (
	ErrChainContinuity   = errors.New("C1|ChainContinuity: Left transition new root differs from right transition old root.")
	ErrTimestampMismatch = errors.New("C2|TimestampMismatch: Transitions of one batch must share the batch timestamp.")
	ErrDecisionMismatch  = errors.New("C3|DecisionMismatch: Decision states for different decisions cannot be merged.")
	ErrSequenceGap       = errors.New("C4|SequenceGap: Right transition does not start at the position where the left one ends.")
	ErrVoterOrder        = errors.New("C5|VoterOrder: Right votes must come from committee positions after the left votes.")
)

// Proof (P) Errors
var (
	ErrProofVerification  = errors.New("P1|ProofVerification: Proof does not verify against its verification key.")
	ErrUnknownCircuit     = errors.New("P2|UnknownCircuit: No verification key is registered for the circuit.")
	ErrCircuitNotAllowed  = errors.New("P3|CircuitNotAllowed: Inner proof belongs to a circuit outside the accepted family.")
	ErrStatementMismatch  = errors.New("P4|StatementMismatch: Public input differs from the statement derived from the witness.")
	ErrWitnessMismatch    = errors.New("P5|WitnessMismatch: Witness opening does not reproduce the claimed root or key.")
	ErrMalformedStatement = errors.New("P6|MalformedStatement: Public input cannot be decoded.")
	ErrWrongWitnessType   = errors.New("P7|WrongWitnessType: Witness type does not match the circuit.")
)

// Threshold and governance (T) Errors
var (
	ErrThresholdNotMet        = errors.New("T1|ThresholdNotMet: Aggregate vote count is below the required threshold.")
	ErrMembershipHashMismatch = errors.New("T2|MembershipHashMismatch: Aggregate voter hash differs from the full committee hash.")
	ErrDecisionExpired        = errors.New("T3|DecisionExpired: Decision expired before it was applied.")
	ErrNotCommitteeMember     = errors.New("T4|NotCommitteeMember: Voter identity is not committed under the decision root.")
	ErrDuplicateVoter         = errors.New("T5|DuplicateVoter: Voter appears more than once in the ballot set.")
	ErrStaleCommittee         = errors.New("T6|StaleCommittee: Decision was voted against a committee root that is not current.")
	ErrBadVoteSignature       = errors.New("T7|BadVoteSignature: Vote signature does not verify for the voter identity.")
	ErrInvalidThreshold       = errors.New("T8|InvalidThreshold: Threshold must be between 1 and the committee size.")
	ErrUnsupportedDecision    = errors.New("T9|UnsupportedDecision: Decision kind has no settlement effect.")
)

// Settlement (S) Errors
var (
	ErrStaleRoot      = errors.New("S1|StaleRoot: Statement old root differs from the canonical root.")
	ErrAlreadySettled = errors.New("S2|AlreadySettled: Statement has already been settled.")
)

// Batch pipeline (B) Errors
var (
	ErrEmptyBatch        = errors.New("B1|EmptyBatch: Batch contains no operations.")
	ErrBatchTooLarge     = errors.New("B2|BatchTooLarge: Batch exceeds the configured batch size.")
	ErrCountMismatch     = errors.New("B3|CountMismatch: Aggregate count differs from the number of input operations.")
	ErrRootMismatch      = errors.New("B4|RootMismatch: Aggregate new root differs from the sequentially applied root.")
	ErrInvalidStatus     = errors.New("B5|InvalidStatus: Batch status transition is not allowed.")
	ErrNothingToReduce   = errors.New("B6|NothingToReduce: Reduction needs at least one proven element.")
	ErrBatchAlreadyFinal = errors.New("B7|BatchAlreadyFinal: Settled batch cannot be processed again.")
	ErrStateResync       = errors.New("B8|StateResync: Batch settled on the ledger but not in local state; resync from the ledger.")
)

// Commitment map (M) Errors
var (
	ErrKeyOutOfRange    = errors.New("M1|KeyOutOfRange: Key does not fit the map depth.")
	ErrInvalidDepth     = errors.New("M2|InvalidDepth: Map depth must be between 1 and 253.")
	ErrWitnessDepth     = errors.New("M3|WitnessDepth: Witness depth differs from the map depth.")
	ErrCorruptNode      = errors.New("M4|CorruptNode: Stored node has an unexpected encoding.")
	ErrDepthMismatch    = errors.New("M5|DepthMismatch: Snapshot depth differs from the map depth.")
	ErrNonCanonicalHash = errors.New("M6|NonCanonicalHash: Value is not a canonical field element.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	code := strings.TrimSpace(parts[0])
	// wrapped errors carry a "context: " prefix before the code
	if i := strings.LastIndex(code, " "); i >= 0 {
		code = code[i+1:]
	}
	return code
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// Class returns the single-letter class of a coded error ("V", "C", "P", ...).
func Class(err error) string {
	code := GetErrorCode(err)
	if code == "" {
		return ""
	}
	return code[:1]
}

var validationErrors = []error{
	ErrVBadSignature, ErrVKeyExists, ErrVKeyAbsent, ErrVRecordExpired,
	ErrVExpiryNotExtended, ErrVFieldsChanged, ErrVOldRecordMismatch,
	ErrVMissingOldRecord, ErrVUnauthorized, ErrVMalformedOperation, ErrVKeyOutOfRange,
}

// IsValidation reports whether err is a per-operation validation failure,
// i.e. one that is absorbed by the reject path rather than aborting a batch.
func IsValidation(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
