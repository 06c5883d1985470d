package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"feedrelay/database"
	"feedrelay/models"

	"github.com/bwmarrin/discordgo"
)

const testToken = "0123456789abcdef0123456789abcdef"

type fakeOutbox struct {
	forwards []string
	deleted  []string
	notices  []string
	buttons  []discordgo.MessageComponent
	dmErr    error
}

func (f *fakeOutbox) DirectChannel(ctx context.Context, userID string) (string, error) {
	if f.dmErr != nil {
		return "", f.dmErr
	}
	return "dm-" + userID, nil
}

func (f *fakeOutbox) Forward(ctx context.Context, toChannelID, fromChannelID, messageID string) (string, error) {
	f.forwards = append(f.forwards, toChannelID+"<"+fromChannelID+"/"+messageID)
	return "fwd1", nil
}

func (f *fakeOutbox) Delete(ctx context.Context, channelID, messageID string) error {
	f.deleted = append(f.deleted, channelID+"/"+messageID)
	return nil
}

func (f *fakeOutbox) SendNotice(ctx context.Context, channelID, text string, components []discordgo.MessageComponent) (string, error) {
	f.notices = append(f.notices, text)
	f.buttons = components
	return "n1", nil
}

func newTestRedeemer(t *testing.T, autoDelete time.Duration) (*Redeemer, *fakeOutbox, *[]func()) {
	t.Helper()
	reg, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	_, err = reg.InsertRecord(models.UploadRecord{Token: testToken, Fingerprint: "fp", Name: "Show.mp4", ChannelID: "pub", MessageID: "m1"})
	if err != nil {
		t.Fatal(err)
	}

	out := &fakeOutbox{}
	r := NewRedeemer(reg, out, autoDelete)
	var scheduled []func()
	r.afterFunc = func(d time.Duration, f func()) {
		if d != autoDelete {
			t.Errorf("scheduled after %v, want %v", d, autoDelete)
		}
		scheduled = append(scheduled, f)
	}
	return r, out, &scheduled
}

func TestRedeemForwardsAndSchedulesDeletion(t *testing.T) {
	r, out, scheduled := newTestRedeemer(t, 10*time.Minute)

	rec, err := r.Redeem(context.Background(), "u1", strings.ToUpper(testToken))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "Show.mp4" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(out.forwards) != 1 || out.forwards[0] != "dm-u1<pub/m1" {
		t.Fatalf("unexpected forwards %v", out.forwards)
	}
	if len(*scheduled) != 1 {
		t.Fatalf("expected one scheduled deletion, got %d", len(*scheduled))
	}

	(*scheduled)[0]()
	if len(out.deleted) != 1 || out.deleted[0] != "dm-u1/fwd1" {
		t.Errorf("unexpected deletions %v", out.deleted)
	}
	if len(out.notices) != 1 || !strings.Contains(out.notices[0], "10 minutes") {
		t.Errorf("unexpected notices %v", out.notices)
	}
	row, ok := out.buttons[0].(discordgo.ActionsRow)
	if !ok {
		t.Fatalf("expected an actions row, got %T", out.buttons[0])
	}
	button := row.Components[0].(discordgo.Button)
	if button.CustomID != "redeem:"+testToken || button.Label != "Get again" {
		t.Errorf("unexpected button %+v", button)
	}
}

func TestRedeemWithoutAutoDelete(t *testing.T) {
	r, out, scheduled := newTestRedeemer(t, 0)
	if _, err := r.Redeem(context.Background(), "u1", testToken); err != nil {
		t.Fatal(err)
	}
	if len(out.forwards) != 1 || len(*scheduled) != 0 {
		t.Errorf("forwards=%v scheduled=%d", out.forwards, len(*scheduled))
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	r, out, _ := newTestRedeemer(t, 0)
	for _, token := range []string{"ffffffffffffffffffffffffffffffff", "not-a-token", ""} {
		_, err := r.Redeem(context.Background(), "u1", token)
		if !errors.Is(err, ErrUnknownToken) {
			t.Errorf("%q: expected ErrUnknownToken, got %v", token, err)
		}
	}
	if len(out.forwards) != 0 {
		t.Errorf("nothing should be forwarded, got %v", out.forwards)
	}
	if !strings.Contains(redeemReply(nil, ErrUnknownToken, 0), "Not found") {
		t.Error("unknown tokens should answer not found")
	}
}

func TestRedeemClosedDMs(t *testing.T) {
	r, out, _ := newTestRedeemer(t, 0)
	out.dmErr = errors.New("cannot send messages to this user")
	_, err := r.Redeem(context.Background(), "u1", testToken)
	if err == nil || errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected a delivery error, got %v", err)
	}
	if !strings.Contains(redeemReply(nil, err, 0), "DMs") {
		t.Error("delivery errors should point at DM settings")
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		testToken:                                testToken,
		" 01234567-89AB-CDEF-0123-456789ABCDEF ": testToken,
		"0123":                                   "",
		"zz23456789abcdef0123456789abcdef":       "",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDirectMessage(t *testing.T) {
	cases := []struct {
		content, command, token string
	}{
		{"!get abc", "get", "abc"},
		{"!GET abc", "get", "abc"},
		{"!start " + testToken, "get", testToken},
		{testToken, "get", testToken},
		{"!ping", "ping", ""},
		{"!get", "get", ""},
		{"hello", "", ""},
		{"!", "", ""},
	}
	for _, c := range cases {
		command, token := ParseDirectMessage(c.content, "!")
		if command != c.command || token != c.token {
			t.Errorf("ParseDirectMessage(%q) = %q, %q; want %q, %q", c.content, command, token, c.command, c.token)
		}
	}
}
