package http

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/common/middleware"
	"ipproof-backend/internal/features/ipproof/certificate"
	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/service"
)

const otsContentType = "application/vnd.opentimestamps.v1"

// Renderer produces certificate PDFs.
type Renderer interface {
	Render(d certificate.Data) ([]byte, error)
}

type IPProofHandler struct {
	registration service.RegistrationService
	verification service.VerificationService
	anchor       service.AnchorService
	renderer     Renderer
}

func NewIPProofHandler(
	registration service.RegistrationService,
	verification service.VerificationService,
	anchor service.AnchorService,
	renderer Renderer,
) *IPProofHandler {
	return &IPProofHandler{
		registration: registration,
		verification: verification,
		anchor:       anchor,
		renderer:     renderer,
	}
}

func (h *IPProofHandler) RegisterRoutes(router *gin.RouterGroup) {
	ip := router.Group("/ip")
	{
		ip.POST("/register", h.register)
		ip.GET("/verify/:hash", h.verify)
		ip.GET("/certificate/:hash", h.certificate)
		ip.GET("/proof/:hash/ots", h.proofFile)
		ip.POST("/upgrade/:hash", h.upgrade)
		ip.OPTIONS("/*path", h.options)
	}
}

func (h *IPProofHandler) options(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, "+middleware.InitDataHeader)
	c.Status(http.StatusNoContent)
}

// @Summary Register a file hash
// @Description Binds a SHA-256 file hash to a new proof record and submits it to OpenTimestamps calendars
// @Tags ip
// @Accept json
// @Produce json
// @Param X-Telegram-Init-Data header string false "Telegram Mini App init data"
// @Param input body models.RegisterRequest true "File to register"
// @Success 201 {object} models.RegisterResponse
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash or missing fields"
// @Failure 401 {object} middleware.ErrorResponse "Invalid init data"
// @Failure 409 {object} models.DuplicateResponse "Hash already registered"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /ip/register [post]
func (h *IPProofHandler) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Invalid request body"))
		return
	}
	if req.TelegramID == nil {
		if id, ok := middleware.TelegramUserID(c); ok {
			req.TelegramID = &id
		}
	}

	outcome, err := h.registration.Register(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	switch outcome.Kind {
	case models.OutcomeAlreadyExists:
		c.JSON(http.StatusConflict, models.DuplicateResponse{
			Success:         false,
			Message:         outcome.Message,
			ExistingProofID: outcome.Record.ID,
			CreatedAt:       outcome.Record.CreatedAt,
		})
	default:
		c.JSON(http.StatusCreated, models.RegisterResponse{
			Success:   true,
			ProofID:   outcome.Record.ID,
			FileHash:  outcome.Record.FileHash,
			Status:    outcome.Record.Status,
			CreatedAt: outcome.Record.CreatedAt,
			Message:   outcome.Message,
		})
	}
}

// @Summary Verify a file hash
// @Description Looks a hash up; an unknown hash is a successful lookup with exists=false
// @Tags ip
// @Produce json
// @Param hash path string true "SHA-256 hex digest"
// @Success 200 {object} models.VerifyResponse
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /ip/verify/{hash} [get]
func (h *IPProofHandler) verify(c *gin.Context) {
	result, err := h.verification.Verify(c.Request.Context(), c.Param("hash"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := models.VerifyResponse{
		Success: true,
		Exists:  result.Exists,
		Message: result.Message,
	}
	if result.Record != nil {
		resp.Proof = models.NewProofView(result.Record)
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Download certificate
// @Description Renders a PDF certificate with a QR code linking to the verification page
// @Tags ip
// @Produce application/pdf
// @Param hash path string true "SHA-256 hex digest"
// @Success 200 {file} binary
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 404 {object} middleware.ErrorResponse "Proof not found"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /ip/certificate/{hash} [get]
func (h *IPProofHandler) certificate(c *gin.Context) {
	record, err := h.verification.Certificate(c.Request.Context(), c.Param("hash"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	pdf, err := h.renderer.Render(certificate.NewData(record))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="ip-proof-%s.pdf"`, record.ShortHash()))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// @Summary Download OpenTimestamps proof
// @Description Returns the raw detached .ots proof, verifiable with any OpenTimestamps client
// @Tags ip
// @Produce application/vnd.opentimestamps.v1
// @Param hash path string true "SHA-256 hex digest"
// @Success 200 {file} binary
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 404 {object} middleware.ErrorResponse "Proof not found or not submitted yet"
// @Router /ip/proof/{hash}/ots [get]
func (h *IPProofHandler) proofFile(c *gin.Context) {
	record, err := h.verification.Certificate(c.Request.Context(), c.Param("hash"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !record.HasProof() {
		_ = c.Error(apperrors.NewNotFoundError("Timestamp proof"))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(*record.OtsData)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "stored proof is corrupt"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ots"`, record.ShortHash()))
	c.Data(http.StatusOK, otsContentType, raw)
}

// @Summary Advance anchoring now
// @Description Submits a pending proof or upgrades an anchoring one without waiting for the worker
// @Tags ip
// @Produce json
// @Param hash path string true "SHA-256 hex digest"
// @Success 200 {object} models.VerifyResponse
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 404 {object} middleware.ErrorResponse "Proof not found"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /ip/upgrade/{hash} [post]
func (h *IPProofHandler) upgrade(c *gin.Context) {
	record, err := h.anchor.Process(c.Request.Context(), c.Param("hash"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.verification.Invalidate(record.FileHash)

	c.JSON(http.StatusOK, models.VerifyResponse{
		Success: true,
		Exists:  true,
		Proof:   models.NewProofView(record),
		Message: service.StatusMessage(record.Status),
	})
}
