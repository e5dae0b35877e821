package probe

import (
	"sync/atomic"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// PacketHandler is a function that processes a received packet.
type PacketHandler func(info *model.PacketInfo)

// Subscriber is responsible for subscribing to a NATS subject and decoding frames.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     logrus.FieldLogger
	skipped atomic.Uint64
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig, log logrus.FieldLogger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("flowspectra-engine"))
	if err != nil {
		return nil, err
	}
	log.WithField("url", cfg.NATSURL).Info("Connected to NATS server")
	return &Subscriber{nc: nc, subject: cfg.Subject, log: log}, nil
}

// Start subscribes and hands every decodable frame to handler. NATS
// delivers the messages of one subscription sequentially.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		info, err := DecodeFrame(msg)
		if err != nil {
			if s.skipped.Add(1) == 1 {
				s.log.WithError(err).Debug("Skipping undecodable frame")
			}
			return
		}
		handler(info)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.WithField("subject", s.subject).Info("Subscribed, waiting for frames")
	return nil
}

// Skipped returns how many frames could not be decoded.
func (s *Subscriber) Skipped() uint64 {
	return s.skipped.Load()
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.nc.Close()
	s.log.Info("NATS connection closed")
}
