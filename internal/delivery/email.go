package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// priorityColors drive the HTML alert header.
var priorityColors = map[string]string{
	"low":      "#2e7d32", // green
	"medium":   "#ffb300", // amber
	"high":     "#ef6c00", // orange
	"critical": "#c62828", // red
}

// EmailSender delivers alert emails over SMTP. The corpus carries no mail
// library, so the MIME envelope is assembled by hand: multipart/alternative
// for the text and HTML variants, wrapped in multipart/mixed when a face
// crop is attached.
type EmailSender struct {
	// DialTLS overrides for tests; nil uses the real dialer.
	DialTLS func(addr string, cfg *tls.Config) (net.Conn, error)
}

func (e *EmailSender) Send(ctx context.Context, ch *Channel, n *Notification) (string, error) {
	cfg := ch.Email
	if cfg == nil {
		return "", fmt.Errorf("channel %s: missing email config", ch.ID)
	}
	to := n.Recipient
	if to == "" {
		to = cfg.To
	}
	if to == "" {
		return "", fmt.Errorf("channel %s: no recipient", ch.ID)
	}

	msg, err := buildEmail(cfg.From, to, n)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var client *smtp.Client
	if cfg.UseTLS {
		dial := e.DialTLS
		if dial == nil {
			dial = func(a string, c *tls.Config) (net.Conn, error) { return tls.Dial("tcp", a, c) }
		}
		conn, err := dial(addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return "", err
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return "", err
		}
	} else {
		var err error
		client, err = smtp.Dial(addr)
		if err != nil {
			return "", err
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				client.Close()
				return "", err
			}
		}
	}
	defer client.Close()

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return "", err
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return "", err
	}
	if err := client.Rcpt(to); err != nil {
		return "", err
	}
	w, err := client.Data()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return "", client.Quit()
}

func buildEmail(from, to string, n *Notification) ([]byte, error) {
	// Text+HTML alternative body, rendered first so it can be embedded
	// either as the whole message or as the first part of multipart/mixed.
	var altBuf bytes.Buffer
	alt := multipart.NewWriter(&altBuf)

	textHdr := textproto.MIMEHeader{}
	textHdr.Set("Content-Type", "text/plain; charset=utf-8")
	tp, err := alt.CreatePart(textHdr)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(tp, textBody(n))

	htmlHdr := textproto.MIMEHeader{}
	htmlHdr.Set("Content-Type", "text/html; charset=utf-8")
	hp, err := alt.CreatePart(htmlHdr)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(hp, htmlBody(n))
	if err := alt.Close(); err != nil {
		return nil, err
	}
	altType := fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.Subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")

	if len(n.CropJPEG) == 0 {
		fmt.Fprintf(&msg, "Content-Type: %s\r\n\r\n", altType)
		msg.Write(altBuf.Bytes())
		return msg.Bytes(), nil
	}

	mixed := multipart.NewWriter(&msg)
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	bodyHdr := textproto.MIMEHeader{}
	bodyHdr.Set("Content-Type", altType)
	bp, err := mixed.CreatePart(bodyHdr)
	if err != nil {
		return nil, err
	}
	if _, err := bp.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}

	attHdr := textproto.MIMEHeader{}
	attHdr.Set("Content-Type", "image/jpeg")
	attHdr.Set("Content-Transfer-Encoding", "base64")
	attHdr.Set("Content-Disposition", `attachment; filename="face.jpg"`)
	ap, err := mixed.CreatePart(attHdr)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(n.CropJPEG)
	// RFC 2045 line wrap.
	for len(enc) > 76 {
		fmt.Fprintf(ap, "%s\r\n", enc[:76])
		enc = enc[76:]
	}
	fmt.Fprintf(ap, "%s\r\n", enc)

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func textBody(n *Notification) string {
	return fmt.Sprintf("%s\r\n\r\nPerson: %s\r\nCamera: %s\r\nConfidence: %.0f%%\r\nTime: %s\r\n",
		n.Message, displayName(n), displayCamera(n), n.Confidence*100,
		n.Timestamp.UTC().Format(time.RFC3339))
}

func htmlBody(n *Notification) string {
	color, ok := priorityColors[strings.ToLower(n.Priority)]
	if !ok {
		color = priorityColors["low"]
	}
	return fmt.Sprintf(`<html><body>
<div style="background-color:%s;color:#ffffff;padding:12px;font-size:18px;font-weight:bold;">
FaceGuard Alert: %s priority
</div>
<p>%s</p>
<table>
<tr><td><b>Person</b></td><td>%s</td></tr>
<tr><td><b>Camera</b></td><td>%s</td></tr>
<tr><td><b>Confidence</b></td><td>%.0f%%</td></tr>
<tr><td><b>Time</b></td><td>%s</td></tr>
</table>
</body></html>`,
		color, strings.ToUpper(n.Priority), n.Message,
		displayName(n), displayCamera(n), n.Confidence*100,
		n.Timestamp.UTC().Format(time.RFC3339))
}

func displayName(n *Notification) string {
	if n.PersonName != "" {
		return n.PersonName
	}
	return n.PersonID
}

func displayCamera(n *Notification) string {
	if n.CameraName != "" {
		return n.CameraName
	}
	return n.CameraID
}
