package addr_test

import (
	"testing"

	"github.com/thass0/spray/addr"
)

func TestBiasRoundTrip(t *testing.T) {
	cases := []addr.Bias{
		{Value: 0},
		{Value: 0x555555554000},
		{Value: 0x7f0000000000},
	}

	addrs := []uint64{0, 1, 0x401156, 0xdeadbeef, 0xffffffffffffffff}

	for _, bias := range cases {
		for _, v := range addrs {
			real := addr.RealAddr{Value: v}
			dbg := bias.ToDbg(real)
			back := bias.ToReal(dbg)
			if back != real {
				t.Fatalf("ToReal(ToDbg(%v)) = %v, want %v (bias %v)", real, back, real, bias)
			}

			d := addr.DbgAddr{Value: v}
			r := bias.ToReal(d)
			backD := bias.ToDbg(r)
			if backD != d {
				t.Fatalf("ToDbg(ToReal(%v)) = %v, want %v (bias %v)", d, backD, d, bias)
			}
		}
	}
}

func TestZeroBiasIsIdentity(t *testing.T) {
	var bias addr.Bias
	real := addr.RealAddr{Value: 0x401156}
	dbg := bias.ToDbg(real)
	if dbg.Value != real.Value {
		t.Fatalf("zero bias changed the address: %v -> %v", real, dbg)
	}
}

func TestPlus(t *testing.T) {
	r := addr.RealAddr{Value: 100}
	if got := r.Plus(8); got.Value != 108 {
		t.Fatalf("Plus(8) = %v, want 108", got)
	}
	if got := r.Plus(-8); got.Value != 92 {
		t.Fatalf("Plus(-8) = %v, want 92", got)
	}
}
