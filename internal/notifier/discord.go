package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// discordLimit is the maximum content length of one webhook message.
const discordLimit = 2000

// suppressEmbeds is the Discord message flag that hides link previews.
const suppressEmbeds = 4

// Discord posts messages to a Discord webhook.
type Discord struct {
	webhookURL string
	mentionID  string
	username   string
	httpClient *http.Client
}

type discordPayload struct {
	Content  string `json:"content"`
	Flags    int    `json:"flags"`
	Username string `json:"username,omitempty"`
}

// NewDiscord creates a webhook sender. An empty mentionID sends no mention.
func NewDiscord(webhookURL, mentionID, username string, timeout time.Duration) (*Discord, error) {
	if webhookURL == "" {
		return nil, errors.New("discord webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{
		webhookURL: webhookURL,
		mentionID:  mentionID,
		username:   username,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts text once per chunk; text within the Discord limit is exactly
// one POST. The mention is prepended to the first chunk only.
func (d *Discord) Send(ctx context.Context, text string) error {
	if d.mentionID != "" {
		text = fmt.Sprintf("<@%s> %s", d.mentionID, text)
	}
	for _, chunk := range splitMessage(text, discordLimit) {
		if err := d.post(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discord) post(ctx context.Context, content string) error {
	body, err := json.Marshal(discordPayload{
		Content:  content,
		Flags:    suppressEmbeds,
		Username: d.username,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		flush()
		// hard-wrap lines longer than the limit
		runes := []rune(line)
		for len(runes) > limit {
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		cur.WriteString(string(runes))
		curLen = len(runes)
	}
	flush()
	return chunks
}
