package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LukasBrandt/PicSmith/internal/pkg/entitlement"
	"github.com/LukasBrandt/PicSmith/internal/pkg/ledger"
	"github.com/LukasBrandt/PicSmith/internal/pkg/plans"
	"github.com/LukasBrandt/PicSmith/internal/pkg/upload"
)

const (
	// maxInputDimension is the longest edge sent to the editing backend.
	// Larger inputs are downscaled before transmission.
	maxInputDimension = 2048
	maxUploadBytes    = 20 << 20
)

var (
	// ErrNoInstructions rejects edit requests without editing instructions.
	ErrNoInstructions = errors.New("editing instructions are required")
	// ErrImageTooLarge rejects uploads past the size cap.
	ErrImageTooLarge = errors.New("image exceeds the upload size limit")
	// ErrEmptyImage rejects requests without an image.
	ErrEmptyImage = errors.New("an input image is required")
)

// AccessResolver decides the effective tier for a user identity.
type AccessResolver interface {
	Resolve(ctx context.Context, externalUserID string) (*entitlement.Resolution, error)
}

// QuotaLedger charges units against the subscriber's pool.
type QuotaLedger interface {
	Consume(ctx context.Context, subscriberID uint) (*ledger.ConsumeResult, error)
}

// Request is one edit request from an authenticated user.
type Request struct {
	ExternalUserID string
	Filename       string
	Instructions   string
	Image          []byte
}

// Response is one finished edit plus the post-charge quota state.
type Response struct {
	RequestID string     `json:"request_id"`
	Image     []byte     `json:"-"`
	MimeType  string     `json:"mime_type"`
	Tier      plans.Tier `json:"tier"`

	UsageCount       int    `json:"usage_count"`
	PoolLimit        int    `json:"pool_limit"`
	Remaining        int    `json:"remaining"`
	Overage          bool   `json:"overage"`
	IntegrityWarning string `json:"integrity_warning,omitempty"`
}

// Service orchestrates one generation: entitlement, quota charge, image
// preparation and the provider call, in that order. The charge lands before
// the provider call and is not refunded on provider failure.
type Service struct {
	resolver AccessResolver
	ledger   QuotaLedger
	provider Provider

	maxDim int
}

// NewService creates a generation service from injected collaborators.
func NewService(resolver AccessResolver, led QuotaLedger, provider Provider) *Service {
	return &Service{resolver: resolver, ledger: led, provider: provider, maxDim: maxInputDimension}
}

// NewServiceFromDB wires a generation service against the shared database
// handle and the environment-configured clients.
func NewServiceFromDB(db *gorm.DB, resolver *entitlement.Resolver) *Service {
	return NewService(resolver, ledger.NewServiceFromDB(db), NewProviderFromEnv())
}

// Generate runs one edit end to end.
//
// Admin identities are never charged. For everyone else the unit is consumed
// before the provider call; a provider failure afterwards leaves the charge in
// place and surfaces as a retryable error.
func (s *Service) Generate(ctx context.Context, req Request) (*Response, error) {
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		return nil, ErrNoInstructions
	}
	if len(req.Image) == 0 {
		return nil, ErrEmptyImage
	}
	if len(req.Image) > maxUploadBytes {
		return nil, ErrImageTooLarge
	}

	head := req.Image
	if len(head) > 512 {
		head = head[:512]
	}
	mime, err := upload.ValidateImageBySniff(req.Filename, head)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, req.ExternalUserID)
	if err != nil {
		return nil, err
	}
	if !res.HasAccess {
		return nil, entitlement.ErrNoAccess
	}

	out := &Response{
		RequestID:  uuid.NewString(),
		Tier:       res.Tier,
		PoolLimit:  res.PoolLimit,
		UsageCount: res.UsageCount,
		Remaining:  res.Remaining,
	}

	if res.Tier != plans.TierAdmin {
		charge, err := s.ledger.Consume(ctx, res.Subscriber.ID)
		if err != nil {
			if !errors.Is(err, ledger.ErrLogAppendFailed) {
				return nil, err
			}
			// The unit is charged; the missing audit entry degrades the
			// response to a flagged partial success, never a silent one.
			log.Printf("request %s: %v", out.RequestID, err)
			if charge.IntegrityWarning == "" {
				charge.IntegrityWarning = "usage charged but audit log append failed, flagged for reconciliation"
			}
		}
		out.UsageCount = charge.UsageCount
		out.PoolLimit = charge.PoolLimit
		out.Remaining = charge.Remaining
		out.Overage = charge.Overage
		out.IntegrityWarning = charge.IntegrityWarning
	}

	prepared, preparedMime := s.prepareInput(req.Image, mime)

	edited, err := s.provider.Edit(ctx, prepared, preparedMime, instructions)
	if err != nil {
		return nil, fmt.Errorf("edit request %s failed after the unit was charged: %w", out.RequestID, err)
	}

	out.Image = edited.Image
	out.MimeType = edited.MimeType
	return out, nil
}

// prepareInput downscales oversized inputs so the backend never receives more
// pixels than it can use. Inputs it cannot decode pass through unchanged; the
// backend does its own decoding and error reporting.
func (s *Service) prepareInput(data []byte, mime string) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mime
	}

	b := img.Bounds()
	if b.Dx() <= s.maxDim && b.Dy() <= s.maxDim {
		return data, mime
	}

	resized := imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return data, mime
	}
	return buf.Bytes(), "image/jpeg"
}
