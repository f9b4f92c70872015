// Package email sends messages over SMTP. Grounded on
// internal/node/runtime/nodes/email_node.go's message construction
// (From/To/Cc/Reply-To headers, multipart/alternative MIME body when
// both text and HTML content are given) and its STARTTLS-vs-PlainAuth
// send path, reworked into a single Execute that builds the RFC 5322
// message and calls smtp.SendMail directly rather than rolling a
// hand-written STARTTLS fallback client. stdlib net/smtp: no
// higher-level mail client is present in the pack, so this is the
// justified stdlib exception for this action.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/prana-run/prana/internal/action"
)

// Action sends one email per invocation.
type Action struct {
	action.NopPrepare
	action.NopResume

	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (a Action) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	from, _ := rendered["from_email"].(string)
	to, _ := rendered["to_email"].(string)
	subject, _ := rendered["subject"].(string)
	if to == "" {
		return action.Result{}, fmt.Errorf("email: to_email is required")
	}
	if subject == "" {
		return action.Result{}, fmt.Errorf("email: subject is required")
	}

	textContent, _ := rendered["text_content"].(string)
	htmlContent, _ := rendered["html_content"].(string)
	if textContent == "" && htmlContent == "" {
		return action.Result{}, fmt.Errorf("email: either text_content or html_content is required")
	}

	fromName, _ := rendered["from_name"].(string)
	ccEmail, _ := rendered["cc_email"].(string)
	bccEmail, _ := rendered["bcc_email"].(string)
	replyTo, _ := rendered["reply_to"].(string)

	smtpHost, _ := rendered["smtp_host"].(string)
	if smtpHost == "" {
		smtpHost = "smtp.gmail.com"
	}
	smtpPort := intParam(rendered, "smtp_port", 587)

	username, _ := rendered["username"].(string)
	password, _ := rendered["password"].(string)

	recipients := parseEmailList(to)
	recipients = append(recipients, parseEmailList(ccEmail)...)
	recipients = append(recipients, parseEmailList(bccEmail)...)

	message := buildMessage(messageSpec{
		from: from, fromName: fromName, to: to, ccEmail: ccEmail, replyTo: replyTo,
		subject: subject, textContent: textContent, htmlContent: htmlContent,
	})

	addr := fmt.Sprintf("%s:%d", smtpHost, smtpPort)
	auth := smtp.PlainAuth("", username, password, smtpHost)

	sendMail := a.SendMail
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	if err := sendMail(addr, auth, from, recipients, []byte(message)); err != nil {
		return action.Result{}, fmt.Errorf("email: sending: %w", err)
	}

	return action.Completed(map[string]interface{}{
		"success":    true,
		"to":         to,
		"subject":    subject,
		"recipients": len(recipients),
		"sent_at":    time.Now().Format(time.RFC3339),
	}), nil
}

type messageSpec struct {
	from, fromName, to, ccEmail, replyTo, subject, textContent, htmlContent string
}

func buildMessage(spec messageSpec) string {
	var msg strings.Builder

	if spec.fromName != "" {
		fmt.Fprintf(&msg, "From: %s <%s>\r\n", spec.fromName, spec.from)
	} else {
		fmt.Fprintf(&msg, "From: %s\r\n", spec.from)
	}
	fmt.Fprintf(&msg, "To: %s\r\n", spec.to)
	if spec.ccEmail != "" {
		fmt.Fprintf(&msg, "Cc: %s\r\n", spec.ccEmail)
	}
	if spec.replyTo != "" {
		fmt.Fprintf(&msg, "Reply-To: %s\r\n", spec.replyTo)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", spec.subject)

	switch {
	case spec.htmlContent != "" && spec.textContent != "":
		boundary := fmt.Sprintf("----=_Part_%d", len(spec.subject)+len(spec.textContent))
		msg.WriteString("MIME-Version: 1.0\r\n")
		fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)
		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(spec.textContent)
		msg.WriteString("\r\n")
		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(spec.htmlContent)
		msg.WriteString("\r\n")
		fmt.Fprintf(&msg, "--%s--", boundary)
	case spec.htmlContent != "":
		msg.WriteString("MIME-Version: 1.0\r\n")
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(spec.htmlContent)
	default:
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(spec.textContent)
	}

	return msg.String()
}

func parseEmailList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

func intParam(m map[string]interface{}, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// Register adds the email send action under the "email" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "email",
		ActionName:      "send",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{},
	})
}
