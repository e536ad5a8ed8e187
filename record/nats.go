package record

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/probe"
)

// NATS publishes each outcome to a subject for downstream consumers. The
// payload is the same JSON record as the pair-mode capture file.
type NATS struct {
	nc      *nats.Conn
	subject string
}

func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Connected to NATS server at %s, publishing to %s", url, subject)
	return &NATS{nc: nc, subject: subject}, nil
}

func (s *NATS) Write(o probe.Outcome) error {
	data, err := json.Marshal(toWire(o))
	if err != nil {
		return err
	}
	return s.nc.Publish(s.subject, data)
}

func (s *NATS) Close() error {
	if s.nc != nil {
		err := s.nc.Drain()
		logrus.Info("NATS connection drained and closed")
		return err
	}
	return nil
}
