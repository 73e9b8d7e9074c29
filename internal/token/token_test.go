package token

import (
	"context"
	"testing"
)

func TestParseRef_Valid(t *testing.T) {
	ref, err := ParseRef("FART-a81bc3f0-100000-20260901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ArtworkID != "a81bc3f0" {
		t.Errorf("artwork = %s, want a81bc3f0", ref.ArtworkID)
	}
	if ref.TotalUnits != 100000 {
		t.Errorf("units = %d, want 100000", ref.TotalUnits)
	}
	if ref.MintedAt.Format("20060102") != "20260901" {
		t.Errorf("minted = %s", ref.MintedAt)
	}
}

func TestParseRef_Invalid(t *testing.T) {
	for _, bad := range []string{
		"",
		"FART-abc",
		"ATMX-abc-100-20260901",
		"FART-abc-100-2026",
		"FART-ABC-100-20260901", // uppercase artwork id
	} {
		if _, err := ParseRef(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestStaticService_MintAndTransfer(t *testing.T) {
	svc := NewStaticService()
	ctx := context.Background()

	ref, err := svc.Mint(ctx, MintSpec{ArtworkID: "art1", ArtistID: "artist1", TotalUnits: 500})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if ref.ContractAddr == "" {
		t.Error("expected contract address")
	}
	if _, err := ParseRef(ref.Reference); err != nil {
		t.Errorf("minted reference should parse: %v", err)
	}

	receipt, err := svc.Transfer(ctx, ref.Reference, "user1", 10)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if receipt.TxHash == "" || receipt.Quantity != 10 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestStaticService_MintRejectsBadSpec(t *testing.T) {
	svc := NewStaticService()
	ctx := context.Background()

	if _, err := svc.Mint(ctx, MintSpec{ArtworkID: "", ArtistID: "a", TotalUnits: 10}); err == nil {
		t.Error("expected error for empty artwork id")
	}
	if _, err := svc.Mint(ctx, MintSpec{ArtworkID: "art", ArtistID: "a", TotalUnits: 0}); err == nil {
		t.Error("expected error for zero units")
	}
	if _, err := svc.Transfer(ctx, "ref", "user", 0); err == nil {
		t.Error("expected error for zero transfer quantity")
	}
}
