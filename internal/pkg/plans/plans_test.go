package plans

import "testing"

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{in: "starter", want: TierStarter, ok: true},
		{in: "Starter Plan", want: TierStarter, ok: true},
		{in: "CREATOR", want: TierCreator, ok: true},
		{in: "brand-monthly", want: TierBrand, ok: true},
		{in: "pro", want: TierPro, ok: true},
		{in: "Professional", want: TierPro, ok: true},
		{in: "enterprise", want: "", ok: false},
		{in: "", want: "", ok: false},
		{in: "   ", want: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := NormalizeTier(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("NormalizeTier(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLimits(t *testing.T) {
	starter := Limits(TierStarter)
	if starter.PoolLimit != 50 || starter.OverageRateCents != 10 {
		t.Fatalf("unexpected starter limits: %+v", starter)
	}

	admin := Limits(TierAdmin)
	if admin.OverageRateCents != 0 {
		t.Fatalf("admin must have a zero overage rate, got %d", admin.OverageRateCents)
	}
	if admin.PoolLimit <= Limits(TierPro).PoolLimit {
		t.Fatalf("admin pool must exceed every paid tier, got %d", admin.PoolLimit)
	}

	// Unknown tiers must still return something the ledger can work with.
	if Limits(Tier("unknown")).PoolLimit != starter.PoolLimit {
		t.Fatalf("unknown tier should fall back to starter limits")
	}
}
