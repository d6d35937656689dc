package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// Dispatcher is what the matching core sees. It never returns an error:
// notification failures are logged and absorbed so a flaky channel cannot
// fail a match calculation.
type Dispatcher interface {
	// MatchFound tells alert.ToUserID that alert.FromUserID is a new match.
	MatchFound(ctx context.Context, alert MatchAlert)

	// ScheduleConfirmed confirms to userID that their availability was saved.
	ScheduleConfirmed(ctx context.Context, userID string, slotCount int)
}

// Service fans notifications out to all registered channel senders.
type Service struct {
	directory Directory
	senders   map[Channel]Sender
}

// NewService creates a notification service. Senders are registered
// separately so channels can be enabled per deployment.
func NewService(directory Directory) *Service {
	return &Service{
		directory: directory,
		senders:   make(map[Channel]Sender),
	}
}

// RegisterSender adds a channel sender (e.g. email, push).
func (s *Service) RegisterSender(snd Sender) {
	s.senders[snd.Channel()] = snd
}

// MatchFound notifies one user about a newly discovered match. All channels
// are attempted concurrently; per-channel failures are logged and ignored.
func (s *Service) MatchFound(ctx context.Context, alert MatchAlert) {
	subject := fmt.Sprintf("%s is free when you are!", alert.FromName)
	body := fmt.Sprintf(
		"Good news! %s has %d time slot(s) in common with you, about %s km away. Match score: %d/100. Open the app to say hi.",
		alert.FromName, len(alert.SharedSlots), alert.DistanceKm, alert.Score,
	)

	s.dispatch(ctx, alert.ToUserID, &Message{
		Type:    TypeNewMatch,
		Subject: subject,
		Body:    body,
		Data: map[string]string{
			"matched_user_id": alert.FromUserID,
			"score":           fmt.Sprintf("%d", alert.Score),
		},
	})
}

// ScheduleConfirmed confirms a saved availability schedule.
func (s *Service) ScheduleConfirmed(ctx context.Context, userID string, slotCount int) {
	s.dispatch(ctx, userID, &Message{
		Type:    TypeScheduleUpdated,
		Subject: "Your availability is set",
		Body:    fmt.Sprintf("Your weekly availability (%d slot(s)) has been saved. We'll let you know when we find dads who are free at the same time.", slotCount),
	})
}

func (s *Service) dispatch(ctx context.Context, userID string, msg *Message) {
	logger := telemetry.LogFromContext(ctx).WithFields(logrus.Fields{
		"user_id":           userID,
		"notification_type": string(msg.Type),
	})

	if len(s.senders) == 0 {
		logger.Debug("No notification senders registered, skipping")
		return
	}

	contact, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		logger.WithError(err).Warn("Failed to resolve notification recipient")
		return
	}
	msg.To = *contact

	var wg sync.WaitGroup
	for _, snd := range s.senders {
		wg.Add(1)
		go func(snd Sender) {
			defer wg.Done()
			res := snd.Send(ctx, msg)
			if !res.Success {
				logger.WithError(res.Error).WithField("channel", string(snd.Channel())).Warn("Notification delivery failed")
				return
			}
			logger.WithField("channel", string(snd.Channel())).Debug("Notification delivered")
		}(snd)
	}
	wg.Wait()
}
