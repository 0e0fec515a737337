package contracts

// Validation is the structured outcome of a ticket or result check.
// Callers branch on Code; checks never panic and never throw for
// expected failure modes.
type Validation struct {
	Valid   bool   `json:"valid"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Validation failure codes.
const (
	CodeMissingJobID          = "MISSING_JOB_ID"
	CodeMissingSignature      = "MISSING_SIGNATURE"
	CodeMissingPolicyDecision = "MISSING_POLICY_DECISION"
	CodeMissingSecret         = "MISSING_SECRET"
	CodeInvalidJobType        = "INVALID_JOB_TYPE"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeTicketExpired         = "TICKET_EXPIRED"
	CodePayloadHashMismatch   = "PAYLOAD_HASH_MISMATCH"
	CodeDuplicateNonce        = "DUPLICATE_NONCE"
)

func valid() Validation {
	return Validation{Valid: true}
}

func invalid(code, message string) Validation {
	return Validation{Valid: false, Code: code, Message: message}
}
