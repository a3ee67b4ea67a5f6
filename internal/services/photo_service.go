package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	pstorage "github.com/taketaketaketake/bol-sub000/internal/platform/storage"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const (
	maxOrderPhotoSize     = int64(15 * 1024 * 1024) // 15 MiB
	photoUploadExpiry     = 10 * time.Minute
	photoLoggerEventIssue = "photo.upload.issued"

	PhotoKindPickup   = "pickup"
	PhotoKindDelivery = "delivery"
)

var (
	// ErrPhotoInvalidInput indicates the caller provided an invalid argument.
	ErrPhotoInvalidInput = errors.New("photo: invalid input")
	// ErrPhotoForbidden indicates the actor may not attach photos to the order.
	ErrPhotoForbidden = errors.New("photo: forbidden")
	// ErrPhotoOrderNotFound indicates the target order does not exist.
	ErrPhotoOrderNotFound = errors.New("photo: order not found")
)

var orderPhotoContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// photoURLSigner is the subset of the storage client used to mint upload URLs.
type photoURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// PhotoServiceDeps wires dependencies for the photo service implementation.
type PhotoServiceDeps struct {
	Orders      repositories.OrderRepository
	Storage     photoURLSigner
	Bucket      string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type photoService struct {
	orders  repositories.OrderRepository
	storage photoURLSigner
	bucket  string
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewPhotoService constructs a PhotoService backed by the provided dependencies.
func NewPhotoService(deps PhotoServiceDeps) (PhotoService, error) {
	if deps.Orders == nil {
		return nil, errors.New("photo service: order repository is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("photo service: storage client is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("photo service: bucket is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &photoService{
		orders:  deps.Orders,
		storage: deps.Storage,
		bucket:  bucket,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *photoService) IssueUploadURL(ctx context.Context, cmd PhotoUploadCommand) (PhotoUploadResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PhotoUploadResult{}, fmt.Errorf("%w: order id is required", ErrPhotoInvalidInput)
	}

	kind := strings.ToLower(strings.TrimSpace(cmd.Kind))
	if kind != PhotoKindPickup && kind != PhotoKindDelivery {
		return PhotoUploadResult{}, fmt.Errorf("%w: photo kind %q not allowed", ErrPhotoInvalidInput, cmd.Kind)
	}

	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		return PhotoUploadResult{}, fmt.Errorf("%w: content_type is required", ErrPhotoInvalidInput)
	}
	ext, ok := photoExtension(contentType)
	if !ok {
		return PhotoUploadResult{}, fmt.Errorf("%w: content_type %q not allowed", ErrPhotoInvalidInput, cmd.ContentType)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return PhotoUploadResult{}, fmt.Errorf("%w: %s", ErrPhotoOrderNotFound, orderID)
		}
		return PhotoUploadResult{}, fmt.Errorf("photo: load order: %w", err)
	}

	if err := authorizePhotoUpload(cmd.Actor, order.DriverID); err != nil {
		return PhotoUploadResult{}, err
	}

	purpose := pstorage.PurposePickupPhoto
	if kind == PhotoKindDelivery {
		purpose = pstorage.PurposeDeliveryPhoto
	}
	objectPath, err := pstorage.BuildObjectPath(purpose, pstorage.PathParams{
		OrderID:  order.ID,
		FileName: fmt.Sprintf("%s.%s", strings.ToLower(s.newID()), ext),
	})
	if err != nil {
		return PhotoUploadResult{}, fmt.Errorf("%w: %v", ErrPhotoInvalidInput, err)
	}

	signed, err := s.storage.SignedURL(ctx, s.bucket, objectPath, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedContentTypes: orderPhotoContentTypes,
			MaxSize:             maxOrderPhotoSize,
			ExpiresIn:           photoUploadExpiry,
		},
	})
	if err != nil {
		return PhotoUploadResult{}, fmt.Errorf("photo: sign upload url: %w", err)
	}

	s.logger(ctx, photoLoggerEventIssue, map[string]any{
		"orderId":   order.ID,
		"actorId":   cmd.Actor.ID,
		"kind":      kind,
		"object":    objectPath,
		"expiresAt": signed.ExpiresAt,
	})

	return PhotoUploadResult{
		UploadURL:  signed.URL,
		ObjectPath: objectPath,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

// authorizePhotoUpload lets staff attach photos anywhere; a driver only for
// orders assigned to them (or not yet assigned, covering manual dispatch).
func authorizePhotoUpload(actor Actor, assignedDriverID string) error {
	if actorHasAnyRole(actor, "admin", "laundromat_staff") {
		return nil
	}
	if actorHasAnyRole(actor, "driver") {
		if assignedDriverID == "" || assignedDriverID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: order is assigned to another driver", ErrPhotoForbidden)
	}
	return fmt.Errorf("%w: photo uploads are staff and driver only", ErrPhotoForbidden)
}

func photoExtension(contentType string) (string, bool) {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	default:
		return "", false
	}
}
