// Package feed publishes curated products onto NATS JetStream so
// downstream consumers can follow a station's output without polling
// the store.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/stationwx/fisb978/internal/types"
)

// SubjectPrefix is prepended to the product type to form the publish
// subject, e.g. fisb.product.METAR.
const SubjectPrefix = "fisb.product."

const streamName = "FISB_PRODUCTS"

// Feed is a JetStream publisher for decoded products.
type Feed struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	limiter *rate.Limiter
	log     *logrus.Entry
}

// New connects to the NATS server at url and provisions the product
// stream. perSec caps the publish rate: a trickle replay can push hours
// of traffic in seconds, and the cap keeps that from flooding live
// consumers. perSec <= 0 disables the cap.
func New(url string, perSec float64) (*Feed, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Feed{
		conn:    nc,
		js:      js,
		limiter: newLimiter(perSec),
		log:     logrus.WithField("stage", "feed"),
	}, nil
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// Publish sends one product to fisb.product.<TYPE>. It blocks while the
// limiter paces a burst; ctx cancels the wait.
func (f *Feed) Publish(ctx context.Context, p *types.Product) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := p.ToJSON()
	if err != nil {
		return err
	}

	if _, err := f.js.Publish(SubjectPrefix+p.Type, data); err != nil {
		return fmt.Errorf("failed to publish product: %w", err)
	}
	return nil
}

// Subscribe delivers published products to handler. productType narrows
// the subscription to one type; empty subscribes to everything.
func (f *Feed) Subscribe(productType string, handler func(*types.Product)) error {
	subject := SubjectPrefix + ">"
	if productType != "" {
		subject = SubjectPrefix + productType
	}

	_, err := f.js.Subscribe(subject, func(msg *nats.Msg) {
		p, err := types.FromJSON(msg.Data)
		if err != nil {
			f.log.WithError(err).Warn("Dropping undecodable feed message")
			return
		}
		handler(p)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (f *Feed) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}
