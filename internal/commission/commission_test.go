package commission

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestFee_RoundsHalfUp(t *testing.T) {
	cases := []struct {
		principal float64
		rate      float64
		want      string
	}{
		{100, 0.02, "2"},
		{100, 0.01, "1"},
		{0.25, 0.02, "0.01"},   // 0.005 rounds up
		{0.24, 0.02, "0"},      // 0.0048 rounds down
		{333.33, 0.02, "6.67"}, // 6.6666
		{1000000, 0.01, "10000"},
	}

	for _, c := range cases {
		got := Fee(d(c.principal), d(c.rate))
		want, _ := decimal.NewFromString(c.want)
		if !got.Equal(want) {
			t.Errorf("Fee(%v, %v) = %s, want %s", c.principal, c.rate, got, want)
		}
	}
}

func TestWithFee(t *testing.T) {
	gross, fee := WithFee(d(100), d(0.02))
	if !gross.Equal(d(102)) {
		t.Errorf("gross = %s, want 102", gross)
	}
	if !fee.Equal(d(2)) {
		t.Errorf("fee = %s, want 2", fee)
	}
}

func TestLessFee(t *testing.T) {
	net, fee := LessFee(d(100), d(0.01))
	if !net.Equal(d(99)) {
		t.Errorf("net = %s, want 99", net)
	}
	if !fee.Equal(d(1)) {
		t.Errorf("fee = %s, want 1", fee)
	}
}

func TestWithFee_PlusLessFee_Conserve(t *testing.T) {
	// Buyer pays gross, seller receives net; platform keeps both fees.
	// gross - net must equal buyerFee + sellerFee exactly.
	principal := d(123.45)
	gross, buyerFee := WithFee(principal, d(0.02))
	net, sellerFee := LessFee(principal, d(0.01))

	if !gross.Sub(net).Equal(buyerFee.Add(sellerFee)) {
		t.Errorf("fee conservation violated: gross=%s net=%s fees=%s+%s",
			gross, net, buyerFee, sellerFee)
	}
}

func TestWeightedAverage(t *testing.T) {
	// Buying 10 units at 100 then 10 units at 200 yields avg 150.
	avg := WeightedAverage(decimal.Zero, 0, d(100), 10)
	if !avg.Equal(d(100)) {
		t.Fatalf("first acquisition avg = %s, want 100", avg)
	}

	avg = WeightedAverage(avg, 10, d(200), 10)
	if !avg.Equal(d(150)) {
		t.Errorf("avg = %s, want 150", avg)
	}
}

func TestWeightedAverage_UnevenQuantities(t *testing.T) {
	// 30 @ 10 + 10 @ 30 = (300 + 300) / 40 = 15
	avg := WeightedAverage(d(10), 30, d(30), 10)
	if !avg.Equal(d(15)) {
		t.Errorf("avg = %s, want 15", avg)
	}
}

func TestUnitValue(t *testing.T) {
	uv := UnitValue(d(1000000), 100000)
	if !uv.Equal(d(10)) {
		t.Errorf("unit value = %s, want 10", uv)
	}

	if !UnitValue(d(100), 0).IsZero() {
		t.Error("unit value with zero units should be zero")
	}
}

func TestRates_Validate(t *testing.T) {
	if err := DefaultRates().Validate(); err != nil {
		t.Errorf("default rates should validate: %v", err)
	}

	bad := Rates{Buyer: d(-0.01), Seller: d(0.01), Liquidation: d(0.01)}
	if err := bad.Validate(); err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate for negative rate, got %v", err)
	}

	bad = Rates{Buyer: d(0.02), Seller: d(1), Liquidation: d(0.01)}
	if err := bad.Validate(); err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate for rate of 1, got %v", err)
	}
}
