package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pstorage "github.com/taketaketaketake/bol-sub000/internal/platform/storage"
)

type fakePhotoSigner struct {
	lastBucket string
	lastObject string
	lastOpts   pstorage.SignedURLOptions
	err        error
}

func (f *fakePhotoSigner) SignedURL(_ context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
	f.lastBucket = bucket
	f.lastObject = object
	f.lastOpts = opts
	if f.err != nil {
		return pstorage.SignedURLResult{}, f.err
	}
	return pstorage.SignedURLResult{
		URL:       "https://storage.test/" + object + "?sig=abc",
		Method:    "PUT",
		ExpiresAt: time.Date(2026, 3, 10, 12, 10, 0, 0, time.UTC),
	}, nil
}

func newPhotoFixture(t *testing.T, order domain.Order) (PhotoService, *fakePhotoSigner, *fakeOrderRepo) {
	t.Helper()
	signer := &fakePhotoSigner{}
	orders := newFakeOrderRepo(order)
	svc, err := NewPhotoService(PhotoServiceDeps{
		Orders:      orders,
		Storage:     signer,
		Bucket:      "laundry-photos",
		Clock:       func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01TESTULID" },
	})
	if err != nil {
		t.Fatalf("new photo service: %v", err)
	}
	return svc, signer, orders
}

func TestIssueUploadURLForAssignedDriver(t *testing.T) {
	order := testOrder(domain.OrderStatusEnRoutePickup)
	order.DriverID = "drv_1"
	svc, signer, _ := newPhotoFixture(t, order)

	result, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     order.ID,
		Actor:       Actor{ID: "drv_1", Roles: []string{"driver"}},
		Kind:        "pickup",
		ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("issue upload url: %v", err)
	}
	if signer.lastBucket != "laundry-photos" {
		t.Fatalf("unexpected bucket: %s", signer.lastBucket)
	}
	if result.ObjectPath != "orders/"+order.ID+"/photos/pickup/01testulid.jpg" {
		t.Fatalf("unexpected object path: %s", result.ObjectPath)
	}
	if !strings.HasPrefix(result.UploadURL, "https://storage.test/") {
		t.Fatalf("unexpected upload url: %s", result.UploadURL)
	}
	upload := signer.lastOpts.Upload
	if upload == nil {
		t.Fatalf("expected upload options")
	}
	if upload.ContentType != "image/jpeg" || upload.MaxSize != maxOrderPhotoSize {
		t.Fatalf("unexpected upload options: %+v", upload)
	}
}

func TestIssueUploadURLRejectsOtherDriver(t *testing.T) {
	order := testOrder(domain.OrderStatusEnRoutePickup)
	order.DriverID = "drv_1"
	svc, signer, _ := newPhotoFixture(t, order)

	_, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     order.ID,
		Actor:       Actor{ID: "drv_2", Roles: []string{"driver"}},
		Kind:        "delivery",
		ContentType: "image/png",
	})
	if !errors.Is(err, ErrPhotoForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if signer.lastObject != "" {
		t.Fatalf("signer should not be called, got %s", signer.lastObject)
	}
}

func TestIssueUploadURLRejectsCustomers(t *testing.T) {
	order := testOrder(domain.OrderStatusScheduled)
	svc, _, _ := newPhotoFixture(t, order)

	_, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     order.ID,
		Actor:       Actor{ID: "uid-1", Roles: []string{"customer"}},
		Kind:        "pickup",
		ContentType: "image/jpeg",
	})
	if !errors.Is(err, ErrPhotoForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestIssueUploadURLValidatesKindAndContentType(t *testing.T) {
	order := testOrder(domain.OrderStatusScheduled)
	svc, _, _ := newPhotoFixture(t, order)
	actor := Actor{ID: "staff-1", Roles: []string{"laundromat_staff"}}

	if _, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     order.ID,
		Actor:       actor,
		Kind:        "selfie",
		ContentType: "image/jpeg",
	}); !errors.Is(err, ErrPhotoInvalidInput) {
		t.Fatalf("expected invalid input for kind, got %v", err)
	}

	if _, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     order.ID,
		Actor:       actor,
		Kind:        "delivery",
		ContentType: "application/pdf",
	}); !errors.Is(err, ErrPhotoInvalidInput) {
		t.Fatalf("expected invalid input for content type, got %v", err)
	}
}

func TestIssueUploadURLMissingOrder(t *testing.T) {
	svc, _, _ := newPhotoFixture(t, testOrder(domain.OrderStatusScheduled))

	_, err := svc.IssueUploadURL(context.Background(), PhotoUploadCommand{
		OrderID:     "ord_missing",
		Actor:       Actor{ID: "adm-1", Roles: []string{"admin"}},
		Kind:        "pickup",
		ContentType: "image/webp",
	})
	if !errors.Is(err, ErrPhotoOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
