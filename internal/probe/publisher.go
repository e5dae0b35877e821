package probe

import (
	"Go2FlowSpectra/internal/config"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher is responsible for publishing raw frames to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     logrus.FieldLogger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig, log logrus.FieldLogger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("flowspectra-probe"))
	if err != nil {
		return nil, err
	}
	log.WithField("url", cfg.NATSURL).Info("Connected to NATS server")
	return &Publisher{nc: nc, subject: cfg.Subject, log: log}, nil
}

// Publish sends one frame with its capture metadata.
func (p *Publisher) Publish(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) error {
	return p.nc.PublishMsg(FrameMsg(p.subject, data, ci, linkType))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.WithError(err).Warn("Error draining NATS connection")
		return
	}
	p.log.Info("NATS connection drained and closed")
}
