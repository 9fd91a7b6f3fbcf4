package models

import "time"

// RegisterRequest is the body of POST /ip/register.
// @Description Registration of a file hash for blockchain anchoring
type RegisterRequest struct {
	FileHash   string    `json:"fileHash" validate:"required" example:"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"`
	FileName   string    `json:"fileName" validate:"required" example:"contract.pdf"`
	FileSize   int64     `json:"fileSize" validate:"required" example:"2048"`
	MimeType   string    `json:"mimeType" validate:"required" example:"application/pdf"`
	UserID     string    `json:"userId" validate:"required" example:"u1"`
	TelegramID *int64    `json:"telegramId,omitempty" example:"123456789"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// RegisterResponse is returned with 201 Created.
type RegisterResponse struct {
	Success   bool      `json:"success" example:"true"`
	ProofID   string    `json:"proofId"`
	FileHash  string    `json:"fileHash"`
	Status    Status    `json:"status" example:"anchoring"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message"`
}

// DuplicateResponse is returned with 409 Conflict.
type DuplicateResponse struct {
	Success         bool      `json:"success" example:"false"`
	Message         string    `json:"message"`
	ExistingProofID string    `json:"existingProofId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ProofView is the redacted public view of a record; submitter identity and
// the raw proof blob are never exposed.
type ProofView struct {
	FileHash           string     `json:"fileHash"`
	FileName           string     `json:"fileName"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	BitcoinTxID        *string    `json:"bitcoinTxId,omitempty"`
	BitcoinBlockHeight *int64     `json:"bitcoinBlockHeight,omitempty"`
	ConfirmationDate   *time.Time `json:"confirmationDate,omitempty"`
}

// NewProofView builds the public view of r.
func NewProofView(r *ProofRecord) *ProofView {
	return &ProofView{
		FileHash:           r.FileHash,
		FileName:           r.FileName,
		Status:             r.Status,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		BitcoinTxID:        r.BitcoinTxID,
		BitcoinBlockHeight: r.BitcoinBlockHeight,
		ConfirmationDate:   r.ConfirmationDate,
	}
}

// VerifyResponse is returned by GET /ip/verify/{hash}.
type VerifyResponse struct {
	Success bool       `json:"success" example:"true"`
	Exists  bool       `json:"exists"`
	Proof   *ProofView `json:"proof,omitempty"`
	Message string     `json:"message"`
}
