// Package push wakes enrolled devices over APNs.
package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sirupsen/logrus"

	"moonstone/internal/mdm"
	"moonstone/internal/store"
)

// Pusher delivers a wake-up notification for each push info.
type Pusher interface {
	Push(ctx context.Context, infos []*mdm.PushInfo) ([]mdm.PushResult, error)
}

// Provider sends MDM pushes through apns2, caching one client per
// topic. Rotating a topic's certificate invalidates its cached client.
type Provider struct {
	store  store.PushCertStore
	logger *logrus.Entry

	mu      sync.Mutex
	clients map[string]*apns2.Client
}

// NewProvider creates an APNs provider over the push cert store.
func NewProvider(s store.PushCertStore, logger *logrus.Entry) *Provider {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Provider{
		store:   s,
		logger:  logger,
		clients: make(map[string]*apns2.Client),
	}
}

var _ Pusher = (*Provider)(nil)

// Invalidate drops the cached client for a topic. Call after storing a
// rotated certificate.
func (p *Provider) Invalidate(topic string) {
	p.mu.Lock()
	delete(p.clients, topic)
	p.mu.Unlock()
}

func (p *Provider) client(ctx context.Context, topic string) (*apns2.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[topic]; ok {
		return client, nil
	}

	pushCert, err := p.store.RetrievePushCert(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("retrieving push cert: %w", err)
	}
	if pushCert == nil {
		return nil, fmt.Errorf("no push certificate for topic %s", topic)
	}

	pemData := append([]byte(pushCert.CertPEM), '\n')
	pemData = append(pemData, []byte(pushCert.KeyPEM)...)
	cert, err := certificate.FromPemBytes(pemData, "")
	if err != nil {
		return nil, fmt.Errorf("loading push cert for topic %s: %w", topic, err)
	}

	client := apns2.NewClient(cert).Production()
	p.clients[topic] = client
	return client, nil
}

// Push sends an `{"mdm": pushMagic}` notification per push info. It
// returns one result per info; a failed send is recorded in its result
// rather than aborting the batch.
func (p *Provider) Push(ctx context.Context, infos []*mdm.PushInfo) ([]mdm.PushResult, error) {
	results := make([]mdm.PushResult, 0, len(infos))
	for _, info := range infos {
		result := mdm.PushResult{EnrollmentID: info.EnrollmentID}

		client, err := p.client(ctx, info.Topic)
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		notification := &apns2.Notification{
			DeviceToken: info.TokenHex(),
			Topic:       info.Topic,
			Payload:     []byte(`{"mdm":"` + info.PushMagic + `"}`),
		}
		res, err := client.PushWithContext(ctx, notification)
		if err != nil {
			result.Err = err
		} else if !res.Sent() {
			result.ApnsID = res.ApnsID
			result.Err = fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
		} else {
			result.ApnsID = res.ApnsID
		}

		log := p.logger.WithFields(logrus.Fields{
			"enrollment_id": info.EnrollmentID,
			"topic":         info.Topic,
		})
		if result.Err != nil {
			log.WithError(result.Err).Warn("push failed")
		} else {
			log.WithField("apns_id", result.ApnsID).Debug("push sent")
		}
		results = append(results, result)
	}
	return results, nil
}

// Service resolves enrollment IDs to push credentials and sends.
type Service struct {
	store  store.PushStore
	pusher Pusher
}

// NewService wires the push store to a pusher.
func NewService(s store.PushStore, pusher Pusher) *Service {
	return &Service{store: s, pusher: pusher}
}

// Push wakes the named enrollments. IDs that are disabled or lack push
// credentials are silently skipped.
func (s *Service) Push(ctx context.Context, ids []string) ([]mdm.PushResult, error) {
	infos, err := s.store.RetrievePushInfos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retrieving push infos: %w", err)
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return s.pusher.Push(ctx, infos)
}
