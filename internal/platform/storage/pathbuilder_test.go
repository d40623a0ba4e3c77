package storage

import "testing"

func TestLabelObjectPath(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"application/pdf", "labels/orders/ord_1/pkg-9.pdf"},
		{"application/pdf; charset=binary", "labels/orders/ord_1/pkg-9.pdf"},
		{"image/PNG", "labels/orders/ord_1/pkg-9.png"},
		{"text/plain", "labels/orders/ord_1/pkg-9.zpl"},
		{"", "labels/orders/ord_1/pkg-9.bin"},
		{"application/octet-stream", "labels/orders/ord_1/pkg-9.bin"},
	}
	for _, tc := range tests {
		got, err := LabelObjectPath("ord_1", "pkg-9", tc.contentType)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.contentType, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.contentType, tc.want, got)
		}
	}
}

func TestLabelObjectPathRejectsInvalidSegment(t *testing.T) {
	if _, err := LabelObjectPath("../ord", "pkg", "application/pdf"); err == nil {
		t.Fatalf("expected error for traversal")
	}
	if _, err := LabelObjectPath("ord_1", "a/b", "application/pdf"); err == nil {
		t.Fatalf("expected error for slash")
	}
	if _, err := LabelObjectPath("ord_1", " ", "application/pdf"); err == nil {
		t.Fatalf("expected error for blank shipment id")
	}
}
