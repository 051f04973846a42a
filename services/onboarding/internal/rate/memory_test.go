package rate

import (
	"context"
	"strings"
	"testing"
	"time"
)

var sendPolicy = Policy{Limit: 2, Window: 10 * time.Minute}

func TestKeyForNormalizesBank(t *testing.T) {
	a := KeyFor("12345678", " Maybank ")
	b := KeyFor("12345678", "MAYBANK")
	if a != b || a.Digest() != b.Digest() {
		t.Fatalf("expected bank name to compare case-insensitively: %+v %+v", a, b)
	}
	if KeyFor("12345678", "CIMB").Digest() == a.Digest() {
		t.Fatalf("expected different banks to have different digests")
	}
	if KeyFor("87654321", "Maybank").Digest() == a.Digest() {
		t.Fatalf("expected different accounts to have different digests")
	}
}

func TestKeyNeverExposesAccountNumber(t *testing.T) {
	k := KeyFor("12345678", "Maybank")
	if strings.Contains(k.Digest(), "12345678") {
		t.Fatalf("digest leaks account number: %s", k.Digest())
	}
	if got := k.String(); got != "maybank:****5678" {
		t.Fatalf("unexpected masked key %q", got)
	}
}

func TestMemoryLimiterThirdSendInWindowRefused(t *testing.T) {
	lim := NewMemory(sendPolicy)
	ctx := context.Background()
	key := KeyFor("12345678", "Maybank")
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	d, err := lim.Allow(ctx, key, start)
	if err != nil || !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first send: %+v %v", d, err)
	}
	d, err = lim.Allow(ctx, key, start.Add(4*time.Minute))
	if err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second send: %+v %v", d, err)
	}

	d, err = lim.Allow(ctx, key, start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("third send: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected third send in window to be refused")
	}
	if d.RetryAfter != 5*time.Minute {
		t.Fatalf("expected retry when the first send leaves the window, got %s", d.RetryAfter)
	}

	// Sliding: the first send has left, the second is still counted.
	d, err = lim.Allow(ctx, key, start.Add(10*time.Minute))
	if err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("send after first expired: %+v %v", d, err)
	}
	d, _ = lim.Allow(ctx, key, start.Add(11*time.Minute))
	if d.Allowed || d.RetryAfter != 3*time.Minute {
		t.Fatalf("expected refusal until second send expires, got %+v", d)
	}
}

func TestMemoryLimiterRefusalDoesNotExtendWait(t *testing.T) {
	lim := NewMemory(Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()
	key := KeyFor("12345678", "Maybank")
	start := time.Now()

	if d, _ := lim.Allow(ctx, key, start); !d.Allowed {
		t.Fatalf("expected first send allowed")
	}
	for i := 1; i <= 5; i++ {
		if d, _ := lim.Allow(ctx, key, start.Add(time.Duration(i)*time.Second)); d.Allowed {
			t.Fatalf("expected refusal %d", i)
		}
	}
	if d, _ := lim.Allow(ctx, key, start.Add(time.Minute+time.Millisecond)); !d.Allowed {
		t.Fatalf("expected send allowed once the window passed")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	lim := NewMemory(Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()
	now := time.Now()

	if d, _ := lim.Allow(ctx, KeyFor("12345678", "Maybank"), now); !d.Allowed {
		t.Fatalf("expected allow")
	}
	if d, _ := lim.Allow(ctx, KeyFor("12345678", "CIMB"), now); !d.Allowed {
		t.Fatalf("expected other bank to have its own budget")
	}
	if d, _ := lim.Allow(ctx, KeyFor("12345678", "maybank"), now); d.Allowed {
		t.Fatalf("expected same account and bank to share a budget")
	}
}

func TestMemoryLimiterSweepsIdleAccounts(t *testing.T) {
	lim := NewMemory(Policy{Limit: 1, Window: time.Second})
	ctx := context.Background()
	now := time.Now()

	lim.Allow(ctx, KeyFor("11111111", "Maybank"), now)
	if lim.Len() != 1 {
		t.Fatalf("expected one tracked account")
	}
	lim.Allow(ctx, KeyFor("22222222", "CIMB"), now.Add(2*time.Second))
	if lim.Len() != 1 {
		t.Fatalf("expected idle account to be swept, got %d", lim.Len())
	}
}

func TestMemoryLimiterRejectsInvalidPolicy(t *testing.T) {
	lim := NewMemory(Policy{})
	if _, err := lim.Allow(context.Background(), KeyFor("12345678", "Maybank"), time.Now()); err == nil {
		t.Fatalf("expected error for empty policy")
	}
}

func TestUnlimitedAllowsEverything(t *testing.T) {
	for i := 0; i < 100; i++ {
		if d, err := (Unlimited{}).Allow(context.Background(), KeyFor("12345678", "Maybank"), time.Now()); err != nil || !d.Allowed {
			t.Fatalf("expected allow")
		}
	}
}
