package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// LineNotifier pushes messages through the LINE Messaging API.
type LineNotifier struct {
	baseURL      string
	channelToken string
	client       *http.Client
	log          zerolog.Logger
}

func NewLineNotifier(baseURL, channelToken string, log zerolog.Logger) *LineNotifier {
	return &LineNotifier{
		baseURL:      baseURL,
		channelToken: channelToken,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []pushMessage `json:"messages"`
}

type pushMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var messageTemplates = map[MessageKind]string{
	KindBookingCreated:       "Your appointment has been booked.",
	KindBookingModified:      "Your appointment has been changed.",
	KindBookingCancelled:     "Your appointment has been cancelled.",
	KindScheduleSuspended:    "Your appointment was cancelled because the schedule is no longer available.",
	KindDoctorDeactivated:    "Your appointment was cancelled because the doctor is no longer available.",
	KindTreatmentDeactivated: "Your appointment was cancelled because the treatment is no longer offered.",
}

func (n *LineNotifier) Notify(ctx context.Context, lineUserID string, kind MessageKind, fields map[string]string) bool {
	if lineUserID == "" {
		return false
	}

	text, ok := messageTemplates[kind]
	if !ok {
		text = string(kind)
	}
	text += renderFields(fields)

	body, err := json.Marshal(pushRequest{
		To:       lineUserID,
		Messages: []pushMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		n.log.Error().Err(err).Msg("marshal LINE push")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v2/bot/message/push", bytes.NewReader(body))
	if err != nil {
		n.log.Error().Err(err).Msg("build LINE push request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.channelToken)

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Str("line_user_id", lineUserID).Msg("LINE push failed")
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		n.log.Warn().
			Int("status", resp.StatusCode).
			Str("line_user_id", lineUserID).
			Str("kind", string(kind)).
			Msg("LINE push rejected")
		return false
	}

	return true
}

func renderFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("\n%s: %s", k, fields[k])
	}
	return out
}
