package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem data errors
// 13000-13999: Submission, Judge & Sandbox errors
// 14000-14999: Chain & Mining errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Queue errors (10400-10499)
	QueueError     ErrorCode = 10400
	PublishFailed  ErrorCode = 10401
	ConsumerClosed ErrorCode = 10402

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Problem Data Errors (12000-12999) ==========

	ProblemNotFound    ErrorCode = 12000
	ProblemNotApproved ErrorCode = 12005
	ManifestInvalid    ErrorCode = 12100
	TestDataMissing    ErrorCode = 12101
	PackFetchFailed    ErrorCode = 12102

	// ========== Submission, Judge & Sandbox Errors (13000-13999) ==========

	SubmissionNotFound   ErrorCode = 13000
	SubmissionJudged     ErrorCode = 13001
	LanguageNotSupported ErrorCode = 13003
	LeaseExpired         ErrorCode = 13010

	JudgeSystemError   ErrorCode = 13101
	SandboxUnavailable ErrorCode = 13110
	BoxExhausted       ErrorCode = 13111
	WatchdogExpired    ErrorCode = 13112

	// ========== Chain & Mining Errors (14000-14999) ==========

	ChainBroken       ErrorCode = 14000
	BlockCommitFailed ErrorCode = 14001
	LeaderLeaseHeld   ErrorCode = 14002
	GenesisMissing    ErrorCode = 14003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	QueueError:     "Message queue operation failed",
	PublishFailed:  "Failed to publish message",
	ConsumerClosed: "Consumer is closed",

	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	ProblemNotFound:    "Problem not found",
	ProblemNotApproved: "Problem is not approved for judging",
	ManifestInvalid:    "Problem manifest is invalid",
	TestDataMissing:    "Problem test data is missing",
	PackFetchFailed:    "Failed to fetch problem data pack",

	SubmissionNotFound:   "Submission not found",
	SubmissionJudged:     "Submission already has a terminal verdict",
	LanguageNotSupported: "Programming language not supported",
	LeaseExpired:         "Submission lease expired",

	JudgeSystemError:   "Judge system error",
	SandboxUnavailable: "Sandbox is unavailable",
	BoxExhausted:       "No sandbox box available",
	WatchdogExpired:    "Judging watchdog expired",

	ChainBroken:       "Block chain linkage is broken",
	BlockCommitFailed: "Failed to commit block",
	LeaderLeaseHeld:   "Mining leader lease is held elsewhere",
	GenesisMissing:    "Genesis block is missing",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}
