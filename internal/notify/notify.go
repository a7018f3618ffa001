// Package notify defines the notification transport contract and the
// availability message format.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier delivers a message to a recipient. imageURL may be empty.
type Notifier interface {
	Send(ctx context.Context, recipientID, text, imageURL string) error
}

// DeliveryError reports a transport failure for one recipient.
type DeliveryError struct {
	RecipientID string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.RecipientID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// LogNotifier writes notifications to the log instead of delivering them.
// It backs dry runs and deployments without a chat transport.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the message and never fails.
func (n *LogNotifier) Send(_ context.Context, recipientID, text, imageURL string) error {
	n.log.Info("notification", "recipient_id", recipientID, "image_url", imageURL, "text", text)
	return nil
}
