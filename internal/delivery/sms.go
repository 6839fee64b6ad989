package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const smsMaxLen = 160

// SMSSender posts Twilio-compatible form-encoded messages. Any provider
// speaking that dialect works; tests point APIBase at a stub server.
type SMSSender struct {
	HTTP *http.Client
}

func (s *SMSSender) Send(ctx context.Context, ch *Channel, n *Notification) (string, error) {
	cfg := ch.SMS
	if cfg == nil {
		return "", fmt.Errorf("channel %s: missing sms config", ch.ID)
	}
	to := n.Recipient
	if to == "" {
		to = cfg.To
	}
	if to == "" {
		return "", fmt.Errorf("channel %s: no recipient", ch.ID)
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.twilio.com"
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", apiBase, cfg.AccountSID)

	form := url.Values{}
	form.Set("From", cfg.From)
	form.Set("To", NormalizePhone(to))
	form.Set("Body", composeSMS(n))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var out struct {
			SID string `json:"sid"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", nil // sent; provider id just unavailable
		}
		return out.SID, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var perr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &perr) == nil && perr.Message != "" {
		return "", fmt.Errorf("sms provider %d (code %d): %s", resp.StatusCode, perr.Code, perr.Message)
	}
	return "", fmt.Errorf("sms provider status %d: %s", resp.StatusCode, body)
}

// composeSMS builds the <=160-char message with a priority prefix.
func composeSMS(n *Notification) string {
	msg := fmt.Sprintf("[%s] %s seen at %s (%.0f%%)",
		strings.ToUpper(n.Priority), displayName(n), displayCamera(n), n.Confidence*100)
	if len(msg) > smsMaxLen {
		msg = msg[:smsMaxLen-3] + "..."
	}
	return msg
}

// NormalizePhone coerces a raw phone value into E.164-ish form. Numbers
// already starting with + pass through with separators stripped.
// TODO: the 877 prefix is mapped to +91 for legacy data, but 877 is also a
// US toll-free prefix; needs operator review before the mapping changes.
func NormalizePhone(raw string) string {
	if strings.HasPrefix(strings.TrimSpace(raw), "+") {
		return "+" + stripSeparators(strings.TrimSpace(raw)[1:])
	}
	digits := stripSeparators(raw)
	switch {
	case strings.HasPrefix(digits, "877"):
		return "+91" + digits
	case len(digits) == 10 && digits[0] >= '2' && digits[0] <= '9':
		return "+1" + digits
	default:
		return "+1" + digits
	}
}

func stripSeparators(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
