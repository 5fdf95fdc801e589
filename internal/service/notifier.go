package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/sirupsen/logrus"
)

var errNotifierNotConfigured = errors.New("notifier not configured")

// Notification is one outbound message to an account holder.
type Notification struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type ResendNotifier struct {
	client *resend.Client
	from   string
}

func NewResendNotifier(apiKey string, from string) *ResendNotifier {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendNotifier{}
	}
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

func (n *ResendNotifier) Send(_ context.Context, notification Notification) error {
	if n.client == nil {
		return errNotifierNotConfigured
	}
	_, err := n.client.Emails.Send(&resend.SendEmailRequest{
		From:    n.from,
		To:      []string{notification.To},
		Subject: notification.Subject,
		Html:    notification.HTML,
		Text:    notification.Text,
	})
	return err
}

// LogNotifier writes notifications to the log. Used when no mail provider is
// configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Send(_ context.Context, notification Notification) error {
	if n.Log == nil {
		return nil
	}
	n.Log.WithFields(logrus.Fields{
		"to":      notification.To,
		"subject": notification.Subject,
	}).Info("notification")
	return nil
}

const defaultNotificationTimeout = 15 * time.Second

// NotificationDispatcher sends notifications out of band. Failures are logged
// and never reach the caller.
type NotificationDispatcher struct {
	notifier Notifier
	log      logrus.FieldLogger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewNotificationDispatcher(notifier Notifier, log logrus.FieldLogger) *NotificationDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NotificationDispatcher{
		notifier: notifier,
		log:      log,
		timeout:  defaultNotificationTimeout,
	}
}

func (d *NotificationDispatcher) Dispatch(notification Notification) {
	if d == nil || d.notifier == nil || notification.To == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, notification); err != nil {
			d.log.WithError(err).WithField("subject", notification.Subject).Warn("notification failed")
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *NotificationDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
