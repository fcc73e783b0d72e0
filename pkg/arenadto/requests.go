package arenadto

// Wire DTOs for the HTTP API. Snapshot payloads mirror the store records
// one-to-one so subscribers and point reads see the same shape.

type ChallengeRequest struct {
	Wallet string `json:"wallet"`
}

type ChallengeResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresIn int    `json:"expiresIn"`
}

type TokenRequest struct {
	Wallet    string `json:"wallet"`
	Signature string `json:"signature"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type JoinLobbyResponse struct {
	LobbyID string `json:"lobbyId"`
}

type RecordTransactionRequest struct {
	Signature string `json:"signature"`
}

type VerifyPaymentRequest struct {
	Signature string `json:"signature"`
}

type RefundRequest struct {
	Signature string `json:"signature"`
}

type RefundResponse struct {
	RefundSignature string `json:"refundSignature"`
}

type StartGameRequest struct {
	LobbyID string `json:"lobbyId"`
}

type StartGameResponse struct {
	GameID string `json:"gameId"`
}

type ScoreRequest struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

type EndGameResponse struct {
	Winner      string         `json:"winner"`
	FinalScores map[string]int `json:"finalScores"`
}

type DistributeResponse struct {
	Signature string `json:"signature"`
}

type ErrorResponse struct {
	Category  string `json:"category"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
