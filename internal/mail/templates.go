package mail

import (
	"fmt"
	"html"
	"strings"
	"time"
)

const TestSubject = "Test Email from Veer"

// TestMessage is the message sent when an integration is connected or tested.
// providerName is the name the user picked ("gmail", "outlook", "custom").
func TestMessage(providerName, to, from string, sentAt time.Time) Message {
	text := fmt.Sprintf(`This is a test email sent from your Veer account to verify that your %s integration is working correctly.

If you received this email, your email configuration is set up successfully!

Sent at: %s`, providerName, sentAt.Format("1/2/2006, 3:04:05 PM"))

	return Message{
		Subject: TestSubject,
		Text:    text,
		HTML:    "<html><body>" + textToHTML(text) + "</body></html>",
		To:      to,
		From:    from,
	}
}

// SubmissionField is one labelled answer shown in a submission notification.
type SubmissionField struct {
	Label string
	Value string
}

// SubmissionNotification tells a form owner that someone submitted their form.
func SubmissionNotification(formName string, fields []SubmissionField, to, from string) Message {
	var text strings.Builder
	fmt.Fprintf(&text, "New submission on %s\n\n", formName)
	for _, f := range fields {
		fmt.Fprintf(&text, "%s: %s\n", f.Label, f.Value)
	}

	return Message{
		Subject: fmt.Sprintf("New submission on %s", formName),
		Text:    text.String(),
		HTML:    SubmissionNotificationBody(formName, fields),
		To:      to,
		From:    from,
	}
}

// SubmissionNotificationBody returns the HTML body for SubmissionNotification.
func SubmissionNotificationBody(formName string, fields []SubmissionField) string {
	var rows strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&rows, "        <p><strong>%s:</strong></p>\n        <div class=\"answer\">%s</div>\n",
			html.EscapeString(f.Label), html.EscapeString(f.Value))
	}
	name := html.EscapeString(formName)

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background-color: #f4f4f7; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 40px auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; }
    .header { background-color: #111827; color: #ffffff; padding: 24px 32px; }
    .header h1 { margin: 0; font-size: 20px; font-weight: 600; }
    .body { padding: 32px; color: #333333; line-height: 1.6; font-size: 14px; }
    .answer { background-color: #f8f9fa; border-left: 4px solid #111827; padding: 12px 16px; margin-bottom: 16px; white-space: pre-wrap; word-wrap: break-word; }
    .footer { padding: 20px 32px; text-align: center; font-size: 12px; color: #999999; border-top: 1px solid #eeeeee; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>New submission on %s</h1>
    </div>
    <div class="body">
%s    </div>
    <div class="footer">
      Sent by Veer through your connected email account.
    </div>
  </div>
</body>
</html>`, name, rows.String())
}

func textToHTML(text string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>") + "</p>"
}
