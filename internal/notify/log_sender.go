package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes notifications to the log. It stands in for a real channel
// in development.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Ready() error { return nil }

func (s LogSender) Send(_ context.Context, content Content) error {
	s.Log.WithFields(logrus.Fields{
		"title": content.Title,
		"body":  content.Body,
	}).Info("notification")
	return nil
}
