package database

import (
	"errors"
	"testing"
	"time"

	"feedrelay/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func item(title string) models.Item {
	return models.Item{
		Title:       title,
		Fingerprint: models.Fingerprint(title),
		Descriptors: []models.Descriptor{{Kind: models.DescriptorMagnet, URI: "magnet:?xt=urn:btih:" + title}},
	}
}

func TestInsertRecordIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	rec := models.UploadRecord{Token: "tok1", Fingerprint: "fp", Name: "Title", ChannelID: "c", MessageID: "m1"}

	wrote, err := r.InsertRecord(rec)
	if err != nil || !wrote {
		t.Fatalf("first insert: wrote=%v err=%v", wrote, err)
	}
	rec.Token = "tok2"
	rec.MessageID = "m2"
	wrote, err = r.InsertRecord(rec)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if wrote {
		t.Fatal("second record for the same fingerprint and part should be ignored")
	}

	recs, err := r.RecordsByFingerprint("fp")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].MessageID != "m1" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestRecordByToken(t *testing.T) {
	r := newTestRegistry(t)
	for part, tok := range []string{"a", "b"} {
		_, err := r.InsertRecord(models.UploadRecord{Token: tok, Fingerprint: "fp", Part: part + 1, Name: "T", ChannelID: "c", MessageID: tok})
		if err != nil {
			t.Fatal(err)
		}
	}
	rec, err := r.RecordByToken("b")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Part != 2 || rec.MessageID != "b" {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := r.RecordByToken("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordByMessageAndDelete(t *testing.T) {
	r := newTestRegistry(t)
	for part, tok := range []string{"a", "b"} {
		_, err := r.InsertRecord(models.UploadRecord{Token: tok, Fingerprint: "fp", Part: part + 1, Name: "T", ChannelID: "c", MessageID: "m" + tok})
		if err != nil {
			t.Fatal(err)
		}
	}
	rec, err := r.RecordByMessage("c", "mb")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Token != "b" {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := r.RecordByMessage("other", "mb"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another channel, got %v", err)
	}

	n, err := r.DeleteRecordsByFingerprint("fp")
	if err != nil || n != 2 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if _, err := r.RecordByToken("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}
}

func TestSeenPrecedence(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.InsertRecord(models.UploadRecord{Token: "t", Fingerprint: "fp1", Title: "Some Title", Name: "Some_Title.mp4", ChannelID: "c", MessageID: "m"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		fp    string
		title string
		want  DedupMatch
	}{
		{"fingerprint wins", "fp1", "Other", MatchFingerprint},
		{"both match reports fingerprint", "fp1", "Some Title", MatchFingerprint},
		{"title fallback", "fp2", "Some Title", MatchTitle},
		{"file name is not a title", "fp3", "Some_Title.mp4", MatchNone},
		{"unseen", "fp4", "New", MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Seen(tt.fp, tt.title)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Seen(%q, %q) = %q, want %q", tt.fp, tt.title, got, tt.want)
			}
		})
	}
}

func TestSeenIgnoresIncompleteSplit(t *testing.T) {
	r := newTestRegistry(t)
	part1 := models.UploadRecord{Token: "p1", Fingerprint: "fp", Part: 1, Parts: 2, Title: "Big", Name: "big.part1.mkv", ChannelID: "c", MessageID: "m1"}
	if _, err := r.InsertRecord(part1); err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"", "Big"} {
		if got, _ := r.Seen("fp", title); got != MatchNone {
			t.Fatalf("half-published item reported as %q", got)
		}
	}
	if got, _ := r.Seen("other", "Big"); got != MatchNone {
		t.Fatalf("title of a half-published item matched: %q", got)
	}

	part2 := part1
	part2.Token, part2.Part, part2.Name, part2.MessageID = "p2", 2, "big.part2.mkv", "m2"
	if _, err := r.InsertRecord(part2); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Seen("fp", ""); got != MatchFingerprint {
		t.Errorf("complete item should match by fingerprint, got %q", got)
	}
	if got, _ := r.Seen("other", "Big"); got != MatchTitle {
		t.Errorf("complete item should match by title, got %q", got)
	}
}

func TestQueueFIFOAndIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		ok, err := r.Enqueue(item(title), base.Add(time.Duration(i)*time.Second))
		if err != nil || !ok {
			t.Fatalf("enqueue %s: ok=%v err=%v", title, ok, err)
		}
	}
	ok, err := r.Enqueue(item("first"), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("re-enqueueing a fingerprint should be a no-op")
	}
	if n, _ := r.PendingCount(); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}

	var order []string
	for {
		e, err := r.DequeueNext()
		if err != nil {
			t.Fatal(err)
		}
		if e == nil {
			break
		}
		order = append(order, e.Item.Title)
		if err := r.MarkProcessed(e.Fingerprint); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}
}

func TestLease(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := r.AcquireLease("a", time.Minute, now); err != nil {
		t.Fatalf("acquire by a: %v", err)
	}
	if err := r.AcquireLease("b", time.Minute, now.Add(30*time.Second)); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld for b, got %v", err)
	}
	st, _ := r.State()
	if !st.IsWorking(now) || st.LeaseOwner != "a" {
		t.Fatalf("unexpected state %+v", st)
	}

	// Renewal pushes the expiry out.
	if err := r.RenewLease("a", time.Minute, now.Add(50*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := r.AcquireLease("b", time.Minute, now.Add(90*time.Second)); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("renewed lease should still block b, got %v", err)
	}

	// An expired lease is taken over.
	if err := r.AcquireLease("b", time.Minute, now.Add(5*time.Minute)); err != nil {
		t.Fatalf("takeover of expired lease: %v", err)
	}
	// The old owner cannot release the new owner's lease.
	if err := r.ReleaseLease("a"); err != nil {
		t.Fatal(err)
	}
	st, _ = r.State()
	if st.LeaseOwner != "b" {
		t.Fatalf("lease owner = %q, want b", st.LeaseOwner)
	}
	if err := r.ReleaseLease("b"); err != nil {
		t.Fatal(err)
	}
	st, _ = r.State()
	if st.IsWorking(now.Add(5 * time.Minute)) {
		t.Fatal("lease should be free after release")
	}
}

func TestDailyCountLazyReset(t *testing.T) {
	r := newTestRegistry(t)

	for i := 1; i <= 3; i++ {
		n, err := r.IncrementDailyCount("2026-01-01")
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("count = %d, want %d", n, i)
		}
	}
	if n, _ := r.DailyCount("2026-01-01"); n != 3 {
		t.Fatalf("same-day count = %d, want 3", n)
	}
	if n, _ := r.DailyCount("2026-01-02"); n != 0 {
		t.Fatalf("next-day count = %d, want 0", n)
	}
	if n, _ := r.IncrementDailyCount("2026-01-03"); n != 1 {
		t.Fatalf("increment on a new day = %d, want 1", n)
	}
}

func TestLastFingerprint(t *testing.T) {
	r := newTestRegistry(t)
	fp, err := r.LastFingerprint()
	if err != nil || fp != "" {
		t.Fatalf("fresh registry: fp=%q err=%v", fp, err)
	}
	if err := r.SetLastFingerprint("abc"); err != nil {
		t.Fatal(err)
	}
	if fp, _ := r.LastFingerprint(); fp != "abc" {
		t.Fatalf("fp = %q, want abc", fp)
	}
}

func TestFailedDownloads(t *testing.T) {
	r := newTestRegistry(t)
	f := models.FailedDownload{Fingerprint: "fp", Title: "T", Reason: "metadata timeout"}
	if err := r.AddFailedDownload(f); err != nil {
		t.Fatal(err)
	}
	if err := r.AddFailedDownload(f); err != nil {
		t.Fatal(err)
	}
	failed, err := r.IsFailed("fp")
	if err != nil || !failed {
		t.Fatalf("IsFailed = %v, %v", failed, err)
	}
	list, _ := r.FailedDownloads(10)
	if len(list) != 1 {
		t.Fatalf("expected one failure, got %d", len(list))
	}
	n, err := r.ClearFailedDownloads()
	if err != nil || n != 1 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
}

func TestPruneProcessedQueue(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r.Enqueue(item("old-processed"), now.Add(-48*time.Hour))
	r.Enqueue(item("old-pending"), now.Add(-48*time.Hour))
	r.Enqueue(item("new-processed"), now.Add(-time.Hour))
	r.MarkProcessed(models.Fingerprint("old-processed"))
	r.MarkProcessed(models.Fingerprint("new-processed"))

	n, err := r.PruneProcessedQueue(24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if p, _ := r.PendingCount(); p != 1 {
		t.Fatalf("pending = %d, want 1", p)
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t)
	r.InsertRecord(models.UploadRecord{Token: "a", Fingerprint: "fp", Part: 1, Name: "T", ChannelID: "c", MessageID: "1", Size: 10})
	r.InsertRecord(models.UploadRecord{Token: "b", Fingerprint: "fp", Part: 2, Name: "T", ChannelID: "c", MessageID: "2", Size: 5})
	r.Enqueue(item("queued"), time.Now())
	r.AddFailedDownload(models.FailedDownload{Fingerprint: "x", Title: "x", Reason: "stall"})

	s, err := r.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Records != 2 || s.Fingerprints != 1 || s.TotalBytes != 15 || s.PendingQueue != 1 || s.FailedEntries != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}
