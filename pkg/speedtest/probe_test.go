package speedtest

import (
	"testing"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

func TestNearest(t *testing.T) {
	t.Parallel()

	servers := st.Servers{
		{Sponsor: "far", Distance: 900},
		{Sponsor: "near", Distance: 10},
		{Sponsor: "mid", Distance: 200},
	}
	got := nearest(servers, 2)
	if len(got) != 2 || got[0].Sponsor != "near" || got[1].Sponsor != "mid" {
		t.Fatalf("nearest = %v", got)
	}
	if n := len(nearest(servers, 10)); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}
}

func TestFastestSkipsUnreachable(t *testing.T) {
	t.Parallel()

	servers := []*st.Server{
		{Sponsor: "down"},
		{Sponsor: "slow", Latency: 80 * time.Millisecond},
		nil,
		{Sponsor: "quick", Latency: 12 * time.Millisecond},
	}
	best, n := fastest(servers)
	if best == nil || best.Sponsor != "quick" {
		t.Fatalf("best = %v, want quick", best)
	}
	if n != 2 {
		t.Fatalf("reachable = %d, want 2", n)
	}
	if b, n := fastest([]*st.Server{{Sponsor: "down"}}); b != nil || n != 0 {
		t.Fatalf("fastest(unreachable) = %v, %d", b, n)
	}
}
