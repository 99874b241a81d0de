package notifier

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"
)

// Message is a rendered email ready for a transport.
type Message struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTML     bool
	Priority string
	Date     time.Time
}

// Bytes renders the message as RFC 5322 with a quoted-printable body.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	if m.HTML {
		header("Content-Type", `text/html; charset="utf-8"`)
	} else {
		header("Content-Type", `text/plain; charset="utf-8"`)
	}
	header("Content-Transfer-Encoding", "quoted-printable")
	if m.Priority != "" {
		header("X-Priority", m.Priority)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(m.Body))
	_ = qp.Close()
	return buf.Bytes()
}
