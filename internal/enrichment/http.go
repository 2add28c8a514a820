package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bank-fee-auditor/internal/models"
)

// commentRequest is the payload sent to the commentary service
type commentRequest struct {
	AnomalyID      string            `json:"anomaly_id"`
	Type           string            `json:"type"`
	Severity       string            `json:"severity"`
	Amount         string            `json:"amount"`
	Title          string            `json:"title"`
	Recommendation string            `json:"recommendation"`
	Descriptions   []string          `json:"descriptions"`
	Evidence       map[string]string `json:"evidence"`
}

type commentResponse struct {
	Commentary string `json:"commentary"`
}

// HTTPCommentator requests commentary from an HTTP service
type HTTPCommentator struct {
	client  *http.Client
	baseURL string
}

// NewHTTPCommentator creates a commentator posting to baseURL/v1/commentary
func NewHTTPCommentator(client *http.Client, baseURL string) *HTTPCommentator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCommentator{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Comment posts a summary of the anomaly and returns the service commentary
func (c *HTTPCommentator) Comment(ctx context.Context, anomaly *models.Anomaly) (string, error) {
	body, err := json.Marshal(newCommentRequest(anomaly))
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/commentary", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("commentary service returned status %d", resp.StatusCode)
	}

	var out commentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode commentary: %w", err)
	}
	if strings.TrimSpace(out.Commentary) == "" {
		return "", fmt.Errorf("commentary service returned an empty commentary")
	}
	return out.Commentary, nil
}

func newCommentRequest(a *models.Anomaly) commentRequest {
	req := commentRequest{
		AnomalyID:      a.ID,
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		Amount:         a.Amount.StringFixed(2),
		Title:          a.Title,
		Recommendation: a.Recommendation,
		Evidence:       make(map[string]string, len(a.Evidence)),
	}
	for _, tx := range a.Transactions {
		req.Descriptions = append(req.Descriptions, tx.Description)
	}
	for _, e := range a.Evidence {
		if _, seen := req.Evidence[e.Key]; !seen {
			req.Evidence[e.Key] = fmt.Sprint(e.Value)
		}
	}
	return req
}
