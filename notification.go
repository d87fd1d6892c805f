package mci_json2tsv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackSummaryBody renders the run summary as a Slack webhook payload.
func SlackSummaryBody(summary RunSummary) string {
	text := "MCI JSON2TSV run " + summary.RunID + " completed\n" + summary.String()
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return `{"text": "MCI JSON2TSV run completed"}`
	}
	return string(body)
}

func NotifyViaSlack(ctx context.Context, body, slackURL string) error {

	slackCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(slackCtx, http.MethodPost, slackURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack notification returned status %s", resp.Status)
	}
	return nil
}
