package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"walletbot/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "walletbot.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsert_OneCodePerSender(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, created, err := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{
		SenderAddress: "0xaaa", ConversationID: "conv-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first upsert must create the request")
	}
	if ok, _ := regexp.MatchString(`^\d{6}$`, code); !ok {
		t.Errorf("code = %q, want six digits", code)
	}

	again, created2, err := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if created2 {
		t.Error("repeated upsert must not create a second request")
	}
	if again != code {
		t.Errorf("repeated upsert code = %q, want the original %q", again, code)
	}
}

func TestUpsert_KeyedByChannelSenderAccount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c1, _, _ := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	c2, created, err := s.Upsert(ctx, "wallet", "0xaaa", "ops", domain.PairingMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("same sender on another account is a distinct request")
	}
	if c1 == c2 {
		t.Log("codes collided; acceptable but unexpected for random 6-digit codes")
	}
}

func TestApprove_MovesSenderOntoAllowlist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, _, err := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.ReadAllowlist(ctx, "wallet", "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("allowlist before approval = %v, want empty", entries)
	}

	sender, err := s.Approve(ctx, "wallet", code)
	if err != nil {
		t.Fatal(err)
	}
	if sender != "0xaaa" {
		t.Errorf("approved sender = %q, want 0xaaa", sender)
	}

	entries, err = s.ReadAllowlist(ctx, "wallet", "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != "0xaaa" {
		t.Errorf("allowlist = %v, want [0xaaa]", entries)
	}

	// A second approval with the same code finds nothing pending.
	if _, err := s.Approve(ctx, "wallet", code); err == nil {
		t.Error("approving an already-approved code must fail")
	}
}

func TestApprove_UnknownCode(t *testing.T) {
	s := testStore(t)
	if _, err := s.Approve(context.Background(), "wallet", "000000"); err == nil {
		t.Error("unknown code must fail")
	}
}

func TestRevoke(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, _, _ := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	if _, err := s.Approve(ctx, "wallet", code); err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(ctx, "wallet", "0xaaa"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ReadAllowlist(ctx, "wallet", "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("allowlist after revoke = %v, want empty", entries)
	}

	// The sender can pair again from scratch.
	_, created, err := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("revoked sender must get a fresh request")
	}
}

func TestListPairings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, _, _ := s.Upsert(ctx, "wallet", "0xaaa", "default", domain.PairingMeta{})
	s.Upsert(ctx, "wallet", "0xbbb", "default", domain.PairingMeta{})
	if _, err := s.Approve(ctx, "wallet", code); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListPairings(ctx, "wallet")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pairings, want 2", len(got))
	}
	// Pending first.
	if got[0].SenderID != "0xbbb" || got[0].Approved {
		t.Errorf("first = %+v, want the pending request", got[0])
	}
	if got[1].SenderID != "0xaaa" || !got[1].Approved {
		t.Errorf("second = %+v, want the approved request", got[1])
	}
}

func TestBuildReply(t *testing.T) {
	s := testStore(t)
	reply := s.BuildReply("wallet", "Sender: 0xaaa", "123456")
	for _, want := range []string{"Sender: 0xaaa", "pair approve", "--channel wallet", "--code 123456"} {
		if !regexp.MustCompile(regexp.QuoteMeta(want)).MatchString(reply) {
			t.Errorf("reply %q missing %q", reply, want)
		}
	}
}

func TestActivitySummaries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, domain.ActivityEvent{Channel: "wallet", AccountID: "default", Direction: "inbound"}); err != nil {
			t.Fatal(err)
		}
	}
	s.Record(ctx, domain.ActivityEvent{Channel: "wallet", AccountID: "default", Direction: "outbound"})
	s.Record(ctx, domain.ActivityEvent{Channel: "wallet", AccountID: "ops", Direction: "outbound"})

	got, err := s.ActivitySummaries(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2", len(got))
	}
	if got[0].AccountID != "default" || got[0].Inbound != 3 || got[0].Outbound != 1 {
		t.Errorf("default summary = %+v, want 3 inbound / 1 outbound", got[0])
	}
	if got[1].AccountID != "ops" || got[1].Inbound != 0 || got[1].Outbound != 1 {
		t.Errorf("ops summary = %+v, want 0 inbound / 1 outbound", got[1])
	}

	// A future cutoff excludes everything.
	got, err = s.ActivitySummaries(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("summaries with future cutoff = %v, want none", got)
	}
}
