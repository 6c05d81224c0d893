package mail

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"time"

	"github.com/google/uuid"
)

// buildMIME renders msg as an RFC 5322 message. When both bodies are present
// it produces multipart/alternative with the plain part first.
func buildMIME(msg Message, now time.Time) []byte {
	var buf bytes.Buffer

	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	writeHeader("From", msg.From)
	writeHeader("To", msg.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", fmt.Sprintf("<%s@veer>", uuid.NewString()))
	writeHeader("MIME-Version", "1.0")

	html := msg.HTML
	if html == "" {
		html = textToHTML(msg.Text)
	}

	if msg.Text == "" {
		writeHeader("Content-Type", `text/html; charset="UTF-8"`)
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQP(&buf, html)
		return buf.Bytes()
	}

	mw := multipart.NewWriter(&buf)
	writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, mw.Boundary()))
	buf.WriteString("\r\n")

	for _, part := range []struct{ ctype, body string }{
		{`text/plain; charset="UTF-8"`, msg.Text},
		{`text/html; charset="UTF-8"`, html},
	} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", part.ctype)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			continue
		}
		qp := quotedprintable.NewWriter(w)
		_, _ = qp.Write([]byte(part.body))
		_ = qp.Close()
	}
	_ = mw.Close()
	return buf.Bytes()
}

func writeQP(buf *bytes.Buffer, body string) {
	qp := quotedprintable.NewWriter(buf)
	_, _ = qp.Write([]byte(body))
	_ = qp.Close()
}
