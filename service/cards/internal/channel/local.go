package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrChannelNotFound indica un handle sconosciuto.
var ErrChannelNotFound = errors.New("channel not found")

// LocalProvisioner tiene categorie e canali in memoria (sviluppo locale, test).
type LocalProvisioner struct {
	mu         sync.Mutex
	categories map[string]string
	channels   map[string]Request
	notices    map[string][]StaleNotice
}

func NewLocalProvisioner() *LocalProvisioner {
	return &LocalProvisioner{
		categories: make(map[string]string),
		channels:   make(map[string]Request),
		notices:    make(map[string][]StaleNotice),
	}
}

// EnsureCategory crea la categoria al primo uso e poi la riusa.
func (p *LocalProvisioner) EnsureCategory(_ context.Context, guildID, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := guildID + "/" + name
	if id, ok := p.categories[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	p.categories[key] = id
	return id, nil
}

func (p *LocalProvisioner) CreateChannel(_ context.Context, req Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	req.Members = append([]string(nil), req.Members...)
	p.channels[id] = req
	return id, nil
}

func (p *LocalProvisioner) DeleteChannel(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[ref]; !ok {
		return ErrChannelNotFound
	}
	delete(p.channels, ref)
	return nil
}

func (p *LocalProvisioner) NotifyStale(_ context.Context, ref string, notice StaleNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[ref]; !ok {
		return ErrChannelNotFound
	}
	p.notices[ref] = append(p.notices[ref], notice)
	return nil
}

// Channel ritorna la richiesta con cui il canale e' stato creato.
func (p *LocalProvisioner) Channel(ref string) (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.channels[ref]
	return req, ok
}

// Categories conta le categorie create.
func (p *LocalProvisioner) Categories() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.categories)
}

// Notices ritorna le notifiche inviate su un canale.
func (p *LocalProvisioner) Notices(ref string) []StaleNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StaleNotice(nil), p.notices[ref]...)
}
