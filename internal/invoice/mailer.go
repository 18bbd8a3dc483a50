package invoice

import (
	"context"
	"fmt"
	"io"

	"appointment-service/internal/models"

	"gopkg.in/gomail.v2"
)

// Mailer emails issued invoices over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewMailer(host string, port int, user, password, from string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
	}
}

// SendInvoice emails pdf to the invoice's customer.
func (m *Mailer) SendInvoice(ctx context.Context, inv *models.Invoice, pdf []byte) error {
	if inv.CustomerEmail == "" {
		return fmt.Errorf("invoice %s has no customer email", inv.InvoiceNumber)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.dialer.DialAndSend(m.buildMessage(inv, pdf))
}

func (m *Mailer) buildMessage(inv *models.Invoice, pdf []byte) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", inv.CustomerEmail)
	msg.SetHeader("Subject", fmt.Sprintf("%s - Fatura %s", inv.BusinessName, inv.InvoiceNumber))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Olá %s,\n\nSegue em anexo a fatura %s no valor de %s.\n\n%s",
		inv.CustomerName, inv.InvoiceNumber, money(inv.Total), inv.BusinessName))
	msg.Attach(inv.InvoiceNumber+".pdf", gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(pdf)
		return err
	}))
	return msg
}
