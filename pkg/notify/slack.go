package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/creasty/defaults"
	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/internal/metrics"
)

// SlackConfig configures the incoming webhook sender.
type SlackConfig struct {
	WebhookURL string
	Username   string        `default:"소상공인 동기화 알림"`
	IconEmoji  string        `default:":store:"`
	Timeout    time.Duration `default:"10s"`
}

// Slack posts block messages to a Slack incoming webhook.
type Slack struct {
	cfg    SlackConfig
	client *http.Client
	logger *zap.Logger
}

// NewSlack creates a Slack sender. Zero-valued fields in cfg take their defaults.
func NewSlack(cfg SlackConfig, logger *zap.Logger) *Slack {
	if err := defaults.Set(&cfg); err != nil {
		logger.Warn("failed to apply slack defaults", zap.Error(err))
	}
	return &Slack{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("slack"),
	}
}

type text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type block struct {
	Type   string  `json:"type"`
	Text   *text   `json:"text,omitempty"`
	Fields []*text `json:"fields,omitempty"`
}

type message struct {
	Username  string  `json:"username,omitempty"`
	IconEmoji string  `json:"icon_emoji,omitempty"`
	Text      string  `json:"text,omitempty"`
	Blocks    []block `json:"blocks,omitempty"`
}

func mrkdwn(s string) *text { return &text{Type: "mrkdwn", Text: s} }

func field(label string, value any) *text {
	return mrkdwn(fmt.Sprintf("*%s:*\n%v", label, value))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (s *Slack) SyncStarted(ctx context.Context, ev StartEvent) {
	s.send(ctx, EventSyncStarted, message{
		Text: fmt.Sprintf(":arrows_counterclockwise: 소상공인 데이터 동기화 시작 (%s, run %s)", ev.Source, ev.RunID),
	})
}

func (s *Slack) NewRecord(ctx context.Context, ev RecordEvent) {
	s.send(ctx, EventNewRecord, message{
		Text: "신규 소상공인 등록됨: " + ev.Name,
		Blocks: []block{
			{Type: "section", Text: mrkdwn(":new: *신규 소상공인 등록됨*")},
			{Type: "section", Fields: []*text{
				field("상호명", ev.Name),
				field("업종", orNA(ev.BusinessType)),
			}},
			{Type: "section", Text: field("주소", orNA(ev.Address))},
		},
	})
}

func (s *Slack) SyncCompleted(ctx context.Context, ev CompleteEvent) {
	secs := ev.Duration.Seconds()
	s.send(ctx, EventSyncCompleted, message{
		Text: "동기화 완료",
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: ":white_check_mark: 동기화 완료", Emoji: true}},
			{Type: "section", Fields: []*text{
				field("전체 조회", ev.Stats.Fetched),
				field("동기화 완료", ev.Stats.Synced),
				field("신규 레코드", ev.Stats.NewRecords),
				field("수정 레코드", ev.Stats.UpdatedRecords),
				field("오류", ev.Stats.Errors),
				field("소요 시간", fmt.Sprintf("%.2f초 (%.2f분)", secs, secs/60)),
			}},
		},
	})
}

func (s *Slack) SyncFailed(ctx context.Context, ev FailEvent) {
	msg := "unknown error"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	s.send(ctx, EventSyncFailed, message{
		Text: "동기화 실패",
		Blocks: []block{
			{Type: "section", Text: mrkdwn(":x: *동기화 실패*\n```" + msg + "```")},
		},
	})
}

func (s *Slack) send(ctx context.Context, event string, msg message) {
	msg.Username = s.cfg.Username
	msg.IconEmoji = s.cfg.IconEmoji

	if err := s.post(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues(event, "failed").Inc()
		s.logger.Warn("failed to deliver slack notification", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.NotificationsTotal.WithLabelValues(event, "sent").Inc()
	s.logger.Debug("slack notification sent", zap.String("event", event))
}

func (s *Slack) post(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
