package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/delinoio/delidev/internal/events"
)

// SlackSink posts a one-line summary of interesting events to a fixed
// channel, using a bot token configured out of band.
type SlackSink struct {
	client  *slack.Client
	channel string
}

func NewSlackSink(botToken, channel string) *SlackSink {
	return &SlackSink{client: slack.New(botToken), channel: channel}
}

func (s *SlackSink) Notify(ctx context.Context, evt events.Event) error {
	text := formatEvent(evt)
	if text == "" {
		return nil
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify.SlackSink.Notify: %w", err)
	}
	return nil
}

func formatEvent(evt events.Event) string {
	switch evt.Kind {
	case events.KindTaskStatusChanged:
		return fmt.Sprintf("task `%s`: %s -> %s", evt.TaskID, evt.OldStatus, evt.NewStatus)
	case events.KindExecutionProgress:
		if evt.Phase == events.PhaseFailed {
			return fmt.Sprintf("task `%s` failed: %s", evt.TaskID, evt.Message)
		}
		return ""
	default:
		return ""
	}
}

var _ Sink = (*SlackSink)(nil)
