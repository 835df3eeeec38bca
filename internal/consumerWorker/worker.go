package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"campusevents/internal/dto"
	"campusevents/internal/mailer"
	"campusevents/internal/rabbit"
)

// Reader consumes ticket-issued messages and mails the ticket out. Delivery
// failures are logged and dropped: email is fire-and-forget and must never
// affect the registration that produced the message.
type Reader struct {
	RMQ    *rabbit.Client
	mail   *mailer.Mailer
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, mail *mailer.Mailer) *Reader {
	return &Reader{
		RMQ:  rmq,
		mail: mail,
		done: make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("ticket notification reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.NotificationMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("failed to unmarshal notification message: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Str("kind", msg.Kind).
				Str("registration_id", msg.RegistrationID).
				Str("event_id", msg.EventID).
				Msg("received notification message")

			if msg.ToEmail == "" {
				zlog.Logger.Warn().
					Str("registration_id", msg.RegistrationID).
					Msg("notification message has no recipient, skipping")
				return nil
			}

			var sendErr error
			switch msg.Kind {
			case dto.NotifyRegistrationCancelled:
				sendErr = r.mail.SendCancellationEmail(msg.ToEmail, msg.EventName)
			default:
				sendErr = r.mail.SendTicketEmail(msg.ToEmail, msg.EventName, msg.TicketNumber, msg.QRPayload)
			}
			if sendErr != nil {
				zlog.Logger.Warn().
					Err(sendErr).
					Str("kind", msg.Kind).
					Str("registration_id", msg.RegistrationID).
					Msg("failed to send notification email")
				return nil
			}

			zlog.Logger.Info().
				Str("email", msg.ToEmail).
				Str("kind", msg.Kind).
				Str("registration_id", msg.RegistrationID).
				Msg("notification email sent")
			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("ticket notification reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
