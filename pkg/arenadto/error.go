package arenadto

// Error categories reported to clients. Every DomainError carries one of
// these plus a stable reason code the client can branch on.
const (
	CategoryUnauthenticated    = "UNAUTHENTICATED"
	CategoryNotFound           = "NOT_FOUND"
	CategoryFailedPrecondition = "FAILED_PRECONDITION"
	CategoryPermissionDenied   = "PERMISSION_DENIED"
	CategoryValidationFailed   = "VALIDATION_FAILED"
	CategoryInternal           = "INTERNAL"
)

type DomainError struct {
	Category  string
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena service error"
}

func domainErr(category, code, message string) DomainError {
	return DomainError{Category: category, Code: code, Message: message}
}

func retryableErr(category, code, message string) DomainError {
	return DomainError{Category: category, Code: code, Message: message, Retryable: true}
}

var (
	ErrUnauthenticated = domainErr(CategoryUnauthenticated, "Unauthenticated", "caller identity missing or invalid")

	ErrLobbyNotFound       = domainErr(CategoryNotFound, "LobbyNotFound", "lobby not found")
	ErrGameNotFound        = domainErr(CategoryNotFound, "GameNotFound", "game not found")
	ErrTransactionNotFound = domainErr(CategoryNotFound, "TransactionNotFound", "transaction not found on ledger")

	ErrInvalidLobby            = domainErr(CategoryFailedPrecondition, "InvalidLobby", "lobby does not exist or player is not a member")
	ErrLobbyFull               = domainErr(CategoryFailedPrecondition, "LobbyFull", "lobby already has two players")
	ErrIncompletePlayers       = domainErr(CategoryFailedPrecondition, "IncompletePlayers", "lobby must have exactly 2 paid players")
	ErrAlreadyCompleted        = domainErr(CategoryFailedPrecondition, "AlreadyCompleted", "game already completed")
	ErrGameNotCompleted        = domainErr(CategoryFailedPrecondition, "GameNotCompleted", "game is not completed")
	ErrAlreadyDistributed      = domainErr(CategoryFailedPrecondition, "AlreadyDistributed", "prize already distributed")
	ErrPayoutInFlight          = retryableErr(CategoryFailedPrecondition, "PayoutInFlight", "a payout submission is already in flight")
	ErrRefundNotAvailable      = domainErr(CategoryFailedPrecondition, "RefundNotAvailable", "refund window has not expired or match completed")
	ErrNotRefundable           = domainErr(CategoryFailedPrecondition, "NotRefundable", "transaction is not in a refundable state")
	ErrAlreadyRefunded         = domainErr(CategoryFailedPrecondition, "AlreadyRefunded", "entry fee already refunded")
	ErrFundsCommitted          = domainErr(CategoryFailedPrecondition, "FundsCommitted", "wallet has a live entry payment in this lobby; it must be refunded first")
	ErrPaymentAlreadySubmitted = domainErr(CategoryFailedPrecondition, "PaymentAlreadySubmitted", "wallet already has a payment recorded for this lobby")

	ErrPermissionDenied = domainErr(CategoryPermissionDenied, "PermissionDenied", "caller is not authorized for this resource")

	ErrTransactionExpired      = domainErr(CategoryValidationFailed, "TransactionExpired", "transaction is older than the accepted window")
	ErrTransactionNotConfirmed = retryableErr(CategoryValidationFailed, "TransactionNotConfirmed", "transaction is not yet confirmed")
	ErrSenderMismatch          = domainErr(CategoryValidationFailed, "SenderMismatch", "transaction sender does not match player wallet")
	ErrRecipientMismatch       = domainErr(CategoryValidationFailed, "RecipientMismatch", "transaction recipient is not the escrow account")
	ErrAmountMismatch          = domainErr(CategoryValidationFailed, "AmountMismatch", "transferred amount does not equal the entry fee")
	ErrMalformedInstruction    = domainErr(CategoryValidationFailed, "MalformedInstruction", "transaction is not a simple native transfer")

	ErrInternal = domainErr(CategoryInternal, "Internal", "internal error")
)
