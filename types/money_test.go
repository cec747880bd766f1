package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "USD", "$49.00"},
		{"EUR", EUR(19900), 19900, "EUR", "€199.00"},
		{"GBP", GBP(9900), 9900, "GBP", "£99.00"},
		{"JPY", JPY(100), 100, "JPY", "¥100"},
		{"New lower-case", New(1250, " chf "), 1250, "CHF", "CHF 12.50"},
		{"Three decimals", New(1500, "KWD"), 1500, "KWD", "KWD 1.500"},
		{"Zero", Zero("usd"), 0, "USD", "$0.00"},
		{"Negative", USD(-105), -105, "USD", "$-1.05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Prorate half", func() Money { return USD(3000).Prorate(15, 30) }, USD(1500)},
		{"Prorate rounds down", func() Money { return USD(1000).Prorate(1, 3) }, USD(333)},
		{"Prorate none used", func() Money { return USD(1000).Prorate(0, 30) }, USD(0)},
		{"Prorate overrun", func() Money { return USD(1000).Prorate(45, 30) }, USD(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.op(); !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = USD(100).Add(EUR(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["display"] != "$49.00" {
		t.Errorf("display: got %v, want $49.00", decoded["display"])
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal into Money failed: %v", err)
	}
	if !back.Equal(USD(4900)) {
		t.Errorf("round-trip: got %v, want %v", back, USD(4900))
	}
}

func TestNormalize(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2026, 1, 2, 3, 4, 5, 123456789, loc)
	got := Normalize(in)

	if got.Location() != time.UTC {
		t.Errorf("location: got %v, want UTC", got.Location())
	}
	if got.Nanosecond() != 123000000 {
		t.Errorf("nanoseconds: got %d, want 123000000", got.Nanosecond())
	}
	if !Normalize(time.Time{}).IsZero() {
		t.Error("zero time should stay zero")
	}

	e := NewEntityAt(in)
	if !e.CreatedAt.Equal(got) || !e.UpdatedAt.Equal(got) {
		t.Errorf("NewEntityAt: got %v/%v, want %v", e.CreatedAt, e.UpdatedAt, got)
	}
}
