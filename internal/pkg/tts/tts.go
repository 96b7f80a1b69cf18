// Package tts resolves notification text to a playable speech URI through an
// external text-to-speech endpoint (node-sonos-tts-polly compatible).
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	endpoint string
	lang     string
	logger   *zap.Logger
	httpc    *http.Client
}

type speechRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type speechResponse struct {
	URI string `json:"uri"`
}

func New(endpoint, lang string) *Client {
	return &Client{
		endpoint: endpoint,
		lang:     lang,
		logger:   zap.L(),
		httpc:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SpeechURI asks the endpoint to synthesize text and returns the URI a player
// can stream. The endpoint caches by text+lang, so repeated announcements are
// cheap.
func (c *Client) SpeechURI(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(speechRequest{Text: text, Lang: c.lang})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts endpoint returned %d", res.StatusCode)
	}

	speech := speechResponse{}
	if err := json.NewDecoder(res.Body).Decode(&speech); err != nil {
		return "", err
	}
	if speech.URI == "" {
		return "", fmt.Errorf("tts endpoint returned no uri")
	}
	c.logger.Debug("generated speech uri", zap.String("text", text), zap.String("uri", speech.URI))
	return speech.URI, nil
}
