package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cufee/botto-feedback/classifier"
	"github.com/cufee/botto-feedback/config"
	db "github.com/cufee/botto-feedback/database"
)

const (
	guild   = "500"
	channel = "600"
	botID   = "999"
	userU   = "101"
	userV   = "202"
)

var feedbackChannel = config.Channel{GuildID: guild, ChannelID: channel}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type sentReply struct {
	messageID string
	text      string
	mention   bool
}

type fakeGateway struct {
	mu      sync.Mutex
	replies []sentReply
	deleted []string
	failAll bool
}

func (g *fakeGateway) SendReply(msg *classifier.Message, text string, mentionAuthor bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return errors.New("gateway down")
	}
	g.replies = append(g.replies, sentReply{messageID: msg.ID, text: text, mention: mentionAuthor})
	return nil
}

func (g *fakeGateway) DeleteMessage(channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return errors.New("gateway down")
	}
	g.deleted = append(g.deleted, messageID)
	return nil
}

type fixture struct {
	wf      *Workflow
	ledger  *db.DB
	gateway *fakeGateway
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.ClientID = botID
	cfg.DiscordToken = "t"
	cfg.MinMsgLen = 20
	cfg.PermissionTimeoutDays = 5
	cfg.Channels = []config.Channel{feedbackChannel}

	ledger, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"), cfg.Channels)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	f := &fixture{
		ledger:  ledger,
		gateway: &fakeGateway{},
		clock:   &fakeClock{now: time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)},
	}
	f.wf = New(&cfg, ledger, f.gateway, f.clock)
	return f
}

func (f *fixture) openRequests(t *testing.T) []db.OpenRequest {
	t.Helper()
	var out []db.OpenRequest
	if err := f.ledger.ForEachOpenRequest(feedbackChannel, func(r db.OpenRequest) { out = append(out, r) }); err != nil {
		t.Fatal(err)
	}
	return out
}

func request(id, author string) *classifier.Message {
	return &classifier.Message{ID: id, GuildID: guild, ChannelID: channel, AuthorID: author, Content: "https://soundcloud.com/x/y"}
}

func replyTo(id, author string, ref *classifier.Message) *classifier.Message {
	return &classifier.Message{
		ID: id, GuildID: guild, ChannelID: channel, AuthorID: author,
		Kind:       classifier.KindReply,
		Content:    strings.Repeat("x", 50),
		Referenced: ref,
	}
}

func TestRequestWithoutCredit(t *testing.T) {
	f := newFixture(t)
	out, err := f.wf.HandleMessage(context.Background(), request("1", userU))
	if err != nil || out != RequestRejected {
		t.Fatalf("HandleMessage = %v, %v, want rejected", out, err)
	}
	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != "1" {
		t.Errorf("deleted = %v, want [1]", f.gateway.deleted)
	}
	if len(f.gateway.replies) != 1 || f.gateway.replies[0].text != config.MsgRequestRejected || !f.gateway.replies[0].mention {
		t.Errorf("replies = %+v", f.gateway.replies)
	}
	if got := f.openRequests(t); len(got) != 0 {
		t.Errorf("open requests = %v, want none", got)
	}
}

func TestRequestWithCredit(t *testing.T) {
	f := newFixture(t)
	f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now.Add(-24 * time.Hour)})

	out, err := f.wf.HandleMessage(context.Background(), request("1", userU))
	if err != nil || out != RequestAccepted {
		t.Fatalf("HandleMessage = %v, %v, want accepted", out, err)
	}
	if got := f.openRequests(t); len(got) != 1 || got[0] != (db.OpenRequest{User: 101, Message: 1}) {
		t.Errorf("open requests = %v", got)
	}
	if len(f.gateway.replies) != 1 || f.gateway.replies[0].text != config.MsgRequestAccepted || f.gateway.replies[0].mention {
		t.Errorf("replies = %+v", f.gateway.replies)
	}
	if len(f.gateway.deleted) != 0 {
		t.Errorf("accepted request deleted: %v", f.gateway.deleted)
	}
	if c, _ := f.ledger.TakeCredit(userU, guild); c != nil {
		t.Error("credit not consumed")
	}
}

func TestRequestTimeoutBoundary(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want Outcome
	}{
		{"just granted", 0, RequestAccepted},
		{"five and a half days", 5*day + 12*time.Hour, RequestAccepted},
		{"six days", 6 * day, RequestRejected},
		{"a month", 30 * day, RequestRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now.Add(-tt.age)})

			out, err := f.wf.HandleMessage(context.Background(), request("1", userU))
			if err != nil || out != tt.want {
				t.Fatalf("HandleMessage = %v, %v, want %v", out, err, tt.want)
			}
			// consumed either way
			if c, _ := f.ledger.TakeCredit(userU, guild); c != nil {
				t.Error("credit still present after request")
			}
		})
	}
}

func TestExpiredCreditIsNotRefunded(t *testing.T) {
	f := newFixture(t)
	f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now.Add(-10 * day)})

	if out, _ := f.wf.HandleMessage(context.Background(), request("1", userU)); out != RequestRejected {
		t.Fatalf("first request = %v, want rejected", out)
	}
	if out, _ := f.wf.HandleMessage(context.Background(), request("2", userU)); out != RequestRejected {
		t.Fatalf("second request = %v, want rejected", out)
	}
	if len(f.gateway.deleted) != 2 {
		t.Errorf("deleted = %v", f.gateway.deleted)
	}
}

func TestFeedbackReply(t *testing.T) {
	f := newFixture(t)
	f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now})
	req := request("1", userU)
	f.wf.HandleMessage(context.Background(), req)
	f.gateway.replies = nil

	out, err := f.wf.HandleMessage(context.Background(), replyTo("2", userV, req))
	if err != nil || out != FeedbackCounted {
		t.Fatalf("HandleMessage = %v, %v, want feedback counted", out, err)
	}
	if got := f.openRequests(t); len(got) != 0 {
		t.Errorf("open requests = %v, want none", got)
	}
	if len(f.gateway.replies) != 1 || f.gateway.replies[0].text != config.MsgReplyAccepted {
		t.Errorf("replies = %+v", f.gateway.replies)
	}
	c, _ := f.ledger.TakeCredit(userV, guild)
	if c == nil || !c.LastReply.Equal(f.clock.now) {
		t.Errorf("credit = %v, want granted at %v", c, f.clock.now)
	}
}

func TestReplyToClosedRequest(t *testing.T) {
	f := newFixture(t)
	req := request("1", userU)

	_, err := f.wf.HandleMessage(context.Background(), replyTo("2", userV, req))
	if !errors.Is(err, db.ErrOpenRequestNotFound) {
		t.Fatalf("err = %v, want ErrOpenRequestNotFound", err)
	}
	if c, _ := f.ledger.TakeCredit(userV, guild); c != nil {
		t.Error("credit granted although the request was not open")
	}
	if len(f.gateway.replies) != 0 {
		t.Errorf("replies = %+v, want none", f.gateway.replies)
	}
}

func TestConcurrentRepliesGrantOnce(t *testing.T) {
	f := newFixture(t)
	f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now})
	req := request("1", userU)
	f.wf.HandleMessage(context.Background(), req)

	repliers := []string{"301", "302", "303", "304"}
	results := make(chan Outcome, len(repliers))
	var wg sync.WaitGroup
	for i, who := range repliers {
		wg.Add(1)
		go func(i int, who string) {
			defer wg.Done()
			out, _ := f.wf.HandleMessage(context.Background(), replyTo(strconv.Itoa(10+i), who, req))
			results <- out
		}(i, who)
	}
	wg.Wait()
	close(results)

	counted := 0
	for out := range results {
		if out == FeedbackCounted {
			counted++
		}
	}
	if counted != 1 {
		t.Errorf("%d replies counted, want 1", counted)
	}
}

func TestIgnoredMessages(t *testing.T) {
	f := newFixture(t)
	other := request("1", userU)
	other.ChannelID = "601"

	tests := []struct {
		name string
		msg  *classifier.Message
	}{
		{"nil", nil},
		{"bot author", request("1", botID)},
		{"other channel", other},
		{"plain chatter", &classifier.Message{ID: "3", GuildID: guild, ChannelID: channel, AuthorID: userU, Content: "nice"}},
		{"self reply", replyTo("4", userU, request("1", userU))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.wf.HandleMessage(context.Background(), tt.msg)
			if err != nil || out != Ignored {
				t.Errorf("HandleMessage = %v, %v, want ignored", out, err)
			}
		})
	}
	if len(f.gateway.replies) != 0 || len(f.gateway.deleted) != 0 {
		t.Errorf("gateway used for ignored messages: %+v %v", f.gateway.replies, f.gateway.deleted)
	}
}

func TestGatewayFailureKeepsLedger(t *testing.T) {
	f := newFixture(t)
	f.gateway.failAll = true
	f.ledger.GrantCredit(userU, guild, db.CreditEntry{LastReply: f.clock.now})

	out, err := f.wf.HandleMessage(context.Background(), request("1", userU))
	if err != nil || out != RequestAccepted {
		t.Fatalf("HandleMessage = %v, %v", out, err)
	}
	if got := f.openRequests(t); len(got) != 1 {
		t.Errorf("open requests = %v", got)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.wf.HandleMessage(ctx, request("1", userU)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOpenListing(t *testing.T) {
	f := newFixture(t)

	text, handled, err := f.wf.HandleCommand(config.OpenCommand, guild, channel)
	if err != nil || !handled || text != config.MsgNoOpen {
		t.Fatalf("empty listing = %q, %v, %v", text, handled, err)
	}

	f.ledger.AddOpenRequest(feedbackChannel, db.OpenRequest{User: 101, Message: 7})
	text, handled, err = f.wf.HandleCommand(config.OpenCommand, guild, channel)
	if err != nil || !handled {
		t.Fatalf("HandleCommand = %v, %v", handled, err)
	}
	want := config.MsgOpenHeader + "\n- https://discord.com/channels/500/600/7 from <@101>\n"
	if text != want {
		t.Errorf("listing = %q, want %q", text, want)
	}
}

func TestHandleCommandGate(t *testing.T) {
	f := newFixture(t)
	if _, handled, _ := f.wf.HandleCommand(config.OpenCommand, guild, "601"); handled {
		t.Error("command handled outside a participating channel")
	}
	text, handled, err := f.wf.HandleCommand("close", guild, channel)
	if err != nil || !handled || text != config.MsgUnknownCommand {
		t.Errorf("unknown command = %q, %v, %v", text, handled, err)
	}
}
