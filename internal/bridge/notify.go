package bridge

import (
	"github.com/rs/zerolog"
)

// Notifier receives failures that happen away from the caller: on a
// session goroutine, or in a fire-and-forget send.
//
// Implementations must be safe for concurrent use and must not block.
type Notifier interface {
	// NotifyNoSession is called when a send is attempted without a joined
	// publisher session.
	NotifyNoSession(topic string)

	// NotifySendRejected is called when a send request is invalid.
	NotifySendRejected(topic string, err error)

	// NotifyPublishFailure is called when the bus refuses or fails a publish.
	NotifyPublishFailure(topic string, err error)

	// NotifySubscribeFailure is called once per topic that could not be
	// subscribed.
	NotifySubscribeFailure(topic string, err error)
}

// NoOpNotifier ignores every notification.
type NoOpNotifier struct{}

func (NoOpNotifier) NotifyNoSession(string)               {}
func (NoOpNotifier) NotifySendRejected(string, error)     {}
func (NoOpNotifier) NotifyPublishFailure(string, error)   {}
func (NoOpNotifier) NotifySubscribeFailure(string, error) {}

// LoggingNotifier writes notifications to a logger.
type LoggingNotifier struct {
	log zerolog.Logger
}

// NewLoggingNotifier creates a LoggingNotifier.
func NewLoggingNotifier(log zerolog.Logger) *LoggingNotifier {
	return &LoggingNotifier{log: log}
}

func (n *LoggingNotifier) NotifyNoSession(topic string) {
	n.log.Warn().Str("topic", topic).Msg("no active publisher session, message not sent")
}

func (n *LoggingNotifier) NotifySendRejected(topic string, err error) {
	n.log.Warn().Err(err).Str("topic", topic).Msg("send request rejected")
}

func (n *LoggingNotifier) NotifyPublishFailure(topic string, err error) {
	n.log.Error().Err(err).Str("topic", topic).Msg("publish failed")
}

func (n *LoggingNotifier) NotifySubscribeFailure(topic string, err error) {
	n.log.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
}
