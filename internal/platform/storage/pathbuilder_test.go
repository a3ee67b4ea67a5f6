package storage

import "testing"

func TestBuildPickupPhotoPath(t *testing.T) {
	path, err := BuildObjectPath(PurposePickupPhoto, PathParams{
		OrderID:  "ord_123",
		FileName: "photo.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/ord_123/photos/pickup/photo.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildDeliveryPhotoPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeDeliveryPhoto, PathParams{
		OrderID:  "ord_123",
		FileName: "photo.webp",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/ord_123/photos/delivery/photo.webp"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReceiptPathUsesInvoiceNumber(t *testing.T) {
	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:       "ord_123",
		InvoiceNumber: "INV-2026-001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/ord_123/invoices/INV-2026-001.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposePickupPhoto, PathParams{
		OrderID:  "../bad",
		FileName: "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
