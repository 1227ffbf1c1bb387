package network

import "testing"

// go test -v --run TestMap
func TestMap(t *testing.T) {
	tests := []struct {
		provider string
		in       string
		want     string
		ok       bool
	}{
		{GeckoTerminal, "ethereum", "eth", true},
		{GeckoTerminal, "  Ethereum ", "eth", true},
		{GeckoTerminal, "eth", "eth", true},
		{GeckoTerminal, "solana", "solana", true},
		{GeckoTerminal, "bsc", "bsc", true},
		{GeckoTerminal, "matic", "polygon_pos", true},
		{DexScreener, "ethereum", "ethereum", true},
		{DexScreener, "binance-smart-chain", "bsc", true},
		{DexScreener, "polygon_pos", "polygon", true},
		{GeckoTerminal, "hyperliquid", "hyperliquid", false},
		{"unknown", "ethereum", "ethereum", false},
	}

	for _, tt := range tests {
		got, ok := Map(tt.provider, tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Map(%q, %q) = (%q, %v), want (%q, %v)", tt.provider, tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMapIsPure(t *testing.T) {
	a, _ := Map(GeckoTerminal, "base")
	b, _ := Map(GeckoTerminal, "base")
	if a != b {
		t.Fatalf("expected stable mapping, got %q and %q", a, b)
	}
}
