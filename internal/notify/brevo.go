package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/pkg/brevo"
)

// BrevoNotifier sends alerts through the Brevo transactional e-mail API.
type BrevoNotifier struct {
	client brevo.Client
	from   Address
	to     Address
}

// NewBrevoNotifier creates a BrevoNotifier.
func NewBrevoNotifier(client brevo.Client, from, to Address) *BrevoNotifier {
	return &BrevoNotifier{client: client, from: from, to: to}
}

// NotifyHotLead implements Notifier.
func (n *BrevoNotifier) NotifyHotLead(ctx context.Context, l HotLead) error {
	body, err := Body(l)
	if err != nil {
		return err
	}
	resp, err := n.client.SendEmail(ctx, brevo.EmailRequest{
		Sender:      brevo.Recipient{Name: n.from.Name, Email: n.from.Email},
		To:          []brevo.Recipient{{Name: n.to.Name, Email: n.to.Email}},
		Subject:     Subject(l),
		HTMLContent: body,
	})
	if err != nil {
		return eris.Wrap(err, "notify: brevo send")
	}
	zap.L().Debug("notify: hot lead alert sent", zap.String("message_id", resp.MessageID))
	return nil
}
