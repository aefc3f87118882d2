package wallet

import (
	"testing"
	"time"
)

func TestMicroUnitsString(t *testing.T) {
	tests := map[MicroUnits]string{
		0:          "0.000000",
		1:          "0.000001",
		Unit:       "1.000000",
		2_500_000:  "2.500000",
		-1_000_001: "-1.000001",
	}
	for in, want := range tests {
		if got := in.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int64(in), got, want)
		}
	}
}

func TestParseMicroUnits(t *testing.T) {
	tests := []struct {
		in   string
		want MicroUnits
		err  bool
	}{
		{"1", Unit, false},
		{"1.5", 1_500_000, false},
		{".25", 250_000, false},
		{"-0.000001", -1, false},
		{"0.0000001", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMicroUnits(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseMicroUnits(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMicroUnits(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestSignupRewardIDDeterministic(t *testing.T) {
	a := SignupRewardID("user-1")
	if a != SignupRewardID("user-1") {
		t.Fatal("same user must map to the same id")
	}
	if a == SignupRewardID("user-2") {
		t.Fatal("different users must not collide")
	}
}

func TestUsageCost(t *testing.T) {
	p := Price{InputPerMTok: 3 * Unit, OutputPerMTok: 15 * Unit}
	u := Usage{PromptTokens: 1000, CompletionTokens: 500}
	// 1000 * 3e6 / 1e6 = 3000; 500 * 15e6 / 1e6 = 7500
	if got := u.Cost(p); got != 10_500 {
		t.Errorf("cost = %d, want 10500", got)
	}
	if got := (Usage{PromptTokens: 1}).Cost(Price{InputPerMTok: 1}); got != 1 {
		t.Errorf("fractional cost should round up, got %d", got)
	}
	if got := (Usage{}).Cost(p); got != 0 {
		t.Errorf("zero usage should be free, got %d", got)
	}
}

func TestUsageTransactionIsDebit(t *testing.T) {
	u := Usage{GenerationID: "gen-1", UserID: "u", Model: "m", PromptTokens: 1_000_000}
	tx := u.Transaction(Price{InputPerMTok: Unit}, time.Unix(0, 0))
	if tx.ID != "gen-1" || tx.Type != TxLLMUsage || tx.Amount != -Unit {
		t.Errorf("unexpected transaction %+v", tx)
	}
}
