package annotate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Responses past this size are cut off, a traffic summary is a few
// paragraphs at most.
const maxResponseBytes = 1 << 20

// Summary is the compact traffic description sent to the annotator
// service.
type Summary struct {
	Date                string        `json:"date"`
	GeneratedAt         time.Time     `json:"generated_at"`
	TotalQueries        int64         `json:"total_queries"`
	QueriesLast24h      int64         `json:"queries_last_24h"`
	CurrentHour         int           `json:"current_hour"`
	CurrentHourQueries  int64         `json:"current_hour_queries"`
	PreviousHourQueries int64         `json:"previous_hour_queries"`
	CacheHitRate        float64       `json:"cache_hit_rate"`
	// Mean queries per hour over the preceding history days, today
	// excluded.
	HourlyAverages [24]float64   `json:"hourly_averages"`
	TopDomains     []DomainCount `json:"top_domains"`
	TopClients     []ClientStat  `json:"top_clients"`
}

type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

type ClientStat struct {
	Client     string        `json:"client"`
	Count      int64         `json:"count"`
	TopDomains []DomainCount `json:"top_domains"`
}

const systemPrompt = `You are reviewing DNS statistics from a home or small office network. Given the JSON summary, describe notable patterns in 3-5 short sentences: traffic level, cache effectiveness, and anything unusual about the top domains or clients. Plain text only.`

// Annotator asks an OpenAI-compatible chat completions endpoint for a
// short natural language read of the day's traffic.
type Annotator struct {
	log    *slog.Logger
	url    string
	model  string
	token  string
	client *http.Client
}

func New(logger *slog.Logger, url string, model string, token string, timeout time.Duration) *Annotator {
	return &Annotator{
		log:   logger,
		url:   url,
		model: model,
		token: token,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Dial: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).Dial,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Annotate sends the summary and returns the completion text.
func (a *Annotator) Annotate(ctx context.Context, summary Summary) (string, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("Annotate: unable to encode summary: %w", err)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("Annotate: unable to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("Annotate: unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	a.log.Info("requesting annotation", "url", a.url, "model", a.model)
	startTime := time.Now()
	res, err := a.client.Do(req)
	elapsedTime := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("Annotate: unable to send request, elapsed time %s: %w", elapsedTime, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			a.log.Error("Annotate: unable to close HTTP body", "error", err)
		}
	}()

	bodyData, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("Annotate: unable to read response body: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		a.log.Error(string(bodyData))
		return "", fmt.Errorf("Annotate: unexpected status code: %d", res.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(bodyData, &parsed); err != nil {
		return "", fmt.Errorf("Annotate: unable to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("Annotate: response contained no choices")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("Annotate: response contained an empty completion")
	}

	a.log.Info("annotation received", "elapsed", elapsedTime.String(), "bytes", len(text))

	return text, nil
}
