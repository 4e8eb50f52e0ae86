package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/pkg/brevo"
)

func sampleLead() HotLead {
	return HotLeadFrom(model.Lead{
		FirstName:     "Jane",
		LastName:      "Doe",
		Email:         "jane@example.com",
		Phone:         "0712345678",
		Course:        "Film <Production>",
		Score:         18,
		Qualification: model.Qualification{Label: "Hot Lead", Priority: "High"},
		Labels: model.QualificationData{
			StudyTimeline:   "January 2026",
			ProgramType:     "Full-time Diploma",
			InvestmentRange: "Not specified",
			CareerGoals:     "Career change",
			ExperienceLevel: "Beginner",
		},
		LastTouch: model.Touch{Source: "google", Medium: "cpc"},
	})
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "HOT LEAD ALERT: Jane Doe - Score: 18/20", Subject(sampleLead()))
}

func TestHotLeadFrom_DefaultsSource(t *testing.T) {
	l := HotLeadFrom(model.Lead{})
	assert.Equal(t, "direct", l.Source)
	assert.Equal(t, "none", l.Medium)
	assert.Equal(t, "organic", l.Campaign)

	l = sampleLead()
	assert.Equal(t, "google", l.Source)
	assert.Equal(t, "organic", l.Campaign)
}

func TestBody(t *testing.T) {
	l := sampleLead()
	l.FirstName = `<script>alert("x")</script>`

	body, err := Body(l)
	require.NoError(t, err)
	assert.Contains(t, body, "Lead Score: 18/20 - Hot Lead")
	assert.Contains(t, body, "Film &lt;Production&gt;")
	assert.Contains(t, body, "January 2026")
	assert.Contains(t, body, "Career change")
	assert.Contains(t, body, "<strong>Source:</strong> google")
	assert.Contains(t, body, "IMMEDIATE ACTION REQUIRED")
	assert.NotContains(t, body, "<script>")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.NotifyHotLead(context.Background(), sampleLead()))
}

type fakeEmailClient struct {
	brevo.Client
	sendFn func(ctx context.Context, req brevo.EmailRequest) (*brevo.EmailResponse, error)
}

func (f *fakeEmailClient) SendEmail(ctx context.Context, req brevo.EmailRequest) (*brevo.EmailResponse, error) {
	return f.sendFn(ctx, req)
}

func TestBrevoNotifier(t *testing.T) {
	t.Run("sends", func(t *testing.T) {
		var got brevo.EmailRequest
		client := &fakeEmailClient{sendFn: func(_ context.Context, req brevo.EmailRequest) (*brevo.EmailResponse, error) {
			got = req
			return &brevo.EmailResponse{MessageID: "m1"}, nil
		}}
		n := NewBrevoNotifier(client,
			Address{Name: "Enquiries", Email: "noreply@example.com"},
			Address{Name: "Admissions", Email: "admissions@example.com"})

		require.NoError(t, n.NotifyHotLead(context.Background(), sampleLead()))
		assert.Equal(t, "noreply@example.com", got.Sender.Email)
		assert.Equal(t, []brevo.Recipient{{Name: "Admissions", Email: "admissions@example.com"}}, got.To)
		assert.Equal(t, "HOT LEAD ALERT: Jane Doe - Score: 18/20", got.Subject)
		assert.Contains(t, got.HTMLContent, "Hot Lead Alert")
	})

	t.Run("wraps errors", func(t *testing.T) {
		client := &fakeEmailClient{sendFn: func(context.Context, brevo.EmailRequest) (*brevo.EmailResponse, error) {
			return nil, errors.New("status 401")
		}}
		n := NewBrevoNotifier(client, Address{}, Address{})
		err := n.NotifyHotLead(context.Background(), sampleLead())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify: brevo send")
	})
}

func TestSMTPNotifier_Message(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{
		From: Address{Name: "Enquiries", Email: "noreply@example.com"},
		To:   Address{Email: "admissions@example.com"},
	})

	var (
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	n.send = func(_ context.Context, from string, to []string, msg []byte) error {
		gotFrom, gotTo, gotMsg = from, to, string(msg)
		return nil
	}

	require.NoError(t, n.NotifyHotLead(context.Background(), sampleLead()))
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"admissions@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: Enquiries <noreply@example.com>\r\n")
	assert.Contains(t, gotMsg, "To: admissions@example.com\r\n")
	assert.Contains(t, gotMsg, "Subject: HOT LEAD ALERT: Jane Doe - Score: 18/20\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html")
}

func TestSMTPNotifier_SendError(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{To: Address{Email: "a@example.com"}})
	n.send = func(context.Context, string, []string, []byte) error { return errors.New("421 try later") }

	err := n.NotifyHotLead(context.Background(), sampleLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify: smtp send")
}

// fakeSMTP is a minimal plaintext SMTP server that records one message.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	cmds []string
	data string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close() //nolint:errcheck

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.cmds = append(s.cmds, cmd)
		s.mu.Unlock()

		switch upper := strings.ToUpper(cmd); {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM"), strings.HasPrefix(upper, "RCPT TO"):
			reply("250 OK")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestSMTPNotifier_Deliver(t *testing.T) {
	srv := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(srv.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	n := NewSMTPNotifier(SMTPConfig{
		Host: host,
		Port: p,
		From: Address{Email: "noreply@example.com"},
		To:   Address{Email: "admissions@example.com"},
	})

	require.NoError(t, n.NotifyHotLead(context.Background(), sampleLead()))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.cmds, "MAIL FROM:<noreply@example.com>")
	assert.Contains(t, srv.cmds, "RCPT TO:<admissions@example.com>")
	assert.Contains(t, srv.data, "Subject: HOT LEAD ALERT: Jane Doe - Score: 18/20")
}
