package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/currency"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/ledger"
	"github.com/noah-isme/salon-labs/internal/obs"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/pricing"
)

// EmailNotifier sends transactional emails for booking and order topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	SalonName    string
	Location     *time.Location
	TopicToggles map[string]bool
	Logger       zerolog.Logger
}

type message struct {
	To      string
	Subject string
	HTML    string
}

// Notify implements events.Notifier. Events without a recipient are skipped.
func (n EmailNotifier) Notify(ctx context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	msg, ok, err := n.render(event)
	if err != nil {
		obs.Inc(obs.NotificationsTotal, event.Topic, "error")
		return fmt.Errorf("email notify %s: %w", event.Topic, err)
	}
	if !ok {
		obs.Inc(obs.NotificationsTotal, event.Topic, "skipped")
		return nil
	}
	if err := n.Mail.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
		obs.Inc(obs.NotificationsTotal, event.Topic, "error")
		return fmt.Errorf("email notify %s: %w", event.Topic, err)
	}
	obs.Inc(obs.NotificationsTotal, event.Topic, "sent")
	n.Logger.Debug().Str("topic", event.Topic).Str("aggregate_id", event.AggregateID).Msg("notification sent")
	return nil
}

func (n EmailNotifier) render(event events.Event) (message, bool, error) {
	switch event.Topic {
	case events.TopicBookingPaidInFull, events.TopicBookingCancelled, events.TopicBookingRescheduled:
		var b ledger.Booking
		if err := json.Unmarshal(event.Payload, &b); err != nil {
			return message{}, false, fmt.Errorf("decode booking: %w", err)
		}
		return n.bookingMessage(event.Topic, b)
	case events.TopicOrderCreated:
		var o order.Order
		if err := json.Unmarshal(event.Payload, &o); err != nil {
			return message{}, false, fmt.Errorf("decode order: %w", err)
		}
		return n.orderMessage("Order received", "We have received your order.", o, 0)
	case events.TopicOrderPaid:
		var paid struct {
			Order   order.Order `json:"order"`
			Payment struct {
				Amount int64 `json:"amount"`
			} `json:"payment"`
		}
		if err := json.Unmarshal(event.Payload, &paid); err != nil {
			return message{}, false, fmt.Errorf("decode payment: %w", err)
		}
		return n.orderMessage("Payment received", "Thank you, your payment has been received.", paid.Order, paid.Payment.Amount)
	}
	return message{}, false, nil
}

type bookingView struct {
	Salon        string
	Client       string
	Service      string
	When         string
	PreviousWhen string
	Total        string
	Paid         string
	Balance      string
	Reason       string
	Refund       string
}

func (n EmailNotifier) bookingMessage(topic string, b ledger.Booking) (message, bool, error) {
	to := strings.TrimSpace(b.ClientEmail)
	if to == "" {
		return message{}, false, nil
	}
	view := bookingView{
		Salon:   n.salon(),
		Client:  b.ClientName,
		Service: b.ServiceName,
		When:    n.when(b.AppointmentAt, b.Date, b.TimeSlot),
		Total:   currency.Format(int64(b.FinalPrice), currency.Base),
		Paid:    currency.Format(int64(b.Deposit), currency.Base),
		Balance: currency.Format(int64(ledger.Balance(b)), currency.Base),
		Reason:  b.CancellationReason,
		Refund:  refundText(b.RefundStatus),
	}
	var (
		subject string
		tmpl    *template.Template
	)
	switch topic {
	case events.TopicBookingPaidInFull:
		subject, tmpl = "Aftercare for your "+b.ServiceName, aftercareTmpl
	case events.TopicBookingCancelled:
		subject, tmpl = "Your appointment has been cancelled", cancelledTmpl
	case events.TopicBookingRescheduled:
		if count := len(b.RescheduleHistory); count > 0 {
			last := b.RescheduleHistory[count-1]
			view.PreviousWhen = last.FromDate + " " + last.FromTimeSlot
		}
		subject, tmpl = "Your appointment has moved", rescheduledTmpl
	}
	html, err := execute(tmpl, view)
	if err != nil {
		return message{}, false, err
	}
	return message{To: to, Subject: subject, HTML: html}, true, nil
}

type orderLine struct {
	Name     string
	Quantity int
	Amount   string
	Billing  string
}

type orderView struct {
	Salon     string
	Name      string
	Intro     string
	OrderID   string
	Lines     []orderLine
	Discount  string
	Tax       string
	Total     string
	Initial   string
	Remaining string
	Received  string
	Paid      string
	Balance   string
}

func (n EmailNotifier) orderMessage(subject, intro string, o order.Order, received int64) (message, bool, error) {
	to := strings.TrimSpace(o.Customer.Email)
	if to == "" {
		return message{}, false, nil
	}
	code := o.Currency
	view := orderView{
		Salon:     n.salon(),
		Name:      o.Customer.Name,
		Intro:     intro,
		OrderID:   o.ID,
		Tax:       currency.Format(o.Totals.TaxAmount, code),
		Total:     currency.Format(o.Totals.Total, code),
		Initial:   currency.Format(o.Totals.InitialPayment, code),
		Remaining: currency.Format(o.Totals.RemainingPayment, code),
		Paid:      currency.Format(o.AmountPaid, code),
		Balance:   currency.Format(o.Outstanding(), code),
	}
	if o.Totals.Discount > 0 {
		view.Discount = currency.Format(o.Totals.Discount, code)
	}
	if received > 0 {
		view.Received = currency.Format(received, code)
	}
	for _, it := range o.Items {
		amount := it.UnitPrice * int64(it.Quantity)
		if it.Billing == pricing.BillingYearly {
			amount += it.SetupFee
		}
		view.Lines = append(view.Lines, orderLine{
			Name:     it.Name,
			Quantity: it.Quantity,
			Amount:   currency.Format(amount, code),
			Billing:  string(it.Billing),
		})
	}
	for _, f := range o.Fees {
		view.Lines = append(view.Lines, orderLine{Name: f.Name, Quantity: 1, Amount: currency.Format(f.Amount, code)})
	}
	html, err := execute(orderTmpl, view)
	if err != nil {
		return message{}, false, err
	}
	return message{To: to, Subject: fmt.Sprintf("%s: %s", subject, o.ID), HTML: html}, true, nil
}

func (n EmailNotifier) salon() string {
	if n.SalonName == "" {
		return "The Salon"
	}
	return n.SalonName
}

func (n EmailNotifier) when(at time.Time, date, slot string) string {
	if at.IsZero() {
		return date + " " + slot
	}
	if n.Location != nil {
		at = at.In(n.Location)
	}
	return at.Format("Mon 2 Jan 2006, 15:04")
}

func refundText(status ledger.RefundStatus) string {
	switch status {
	case ledger.RefundPending:
		return "Your deposit will be refunded."
	case ledger.RefundRetained:
		return "As the cancellation was made inside the cancellation window, the deposit is retained."
	case ledger.RefundNotRequired:
		return "No payment was taken, so nothing is due back."
	default:
		return ""
	}
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var (
	aftercareTmpl = template.Must(template.New("aftercare").Parse(`<p>Hi {{.Client}},</p>
<p>Thank you for visiting {{.Salon}}. Your {{.Service}} is fully paid ({{.Paid}}).</p>
<p>For the next 48 hours avoid water and heat on the treated area, keep it clean and skip heavy products. Reach out if anything feels off.</p>`))

	cancelledTmpl = template.Must(template.New("cancelled").Parse(`<p>Hi {{.Client}},</p>
<p>Your {{.Service}} appointment on {{.When}} has been cancelled.{{if .Reason}} Reason: {{.Reason}}.{{end}}</p>
{{if .Refund}}<p>{{.Refund}}</p>{{end}}
<p>{{.Salon}}</p>`))

	rescheduledTmpl = template.Must(template.New("rescheduled").Parse(`<p>Hi {{.Client}},</p>
<p>Your {{.Service}} appointment{{if .PreviousWhen}} previously on {{.PreviousWhen}}{{end}} is now on {{.When}}.</p>
<p>Balance due at the appointment: {{.Balance}}.</p>
<p>{{.Salon}}</p>`))

	orderTmpl = template.Must(template.New("order").Parse(`<p>Hi {{.Name}},</p>
<p>{{.Intro}} Order <strong>{{.OrderID}}</strong>.</p>
<table>
{{range .Lines}}<tr><td>{{.Name}} x{{.Quantity}}</td><td>{{.Amount}}</td><td>{{.Billing}}</td></tr>
{{end}}</table>
{{if .Discount}}<p>Discount: -{{.Discount}}</p>{{end}}
<p>Tax: {{.Tax}}<br>Total: {{.Total}}</p>
<p>First payment: {{.Initial}}<br>Remaining balance: {{.Remaining}}</p>
{{if .Received}}<p>Received now: {{.Received}}<br>Paid to date: {{.Paid}}<br>Outstanding: {{.Balance}}</p>{{end}}
<p>{{.Salon}}</p>`))
)
