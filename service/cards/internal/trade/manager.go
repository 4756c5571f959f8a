package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"CardVault/service/cards/internal/channel"
	"CardVault/service/cards/internal/domain"
	"CardVault/service/cards/internal/lock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository espone le letture e lo scambio atomico usati dalle sessioni.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	// MissingCards ritorna gli id tra ids che non sono nell'inventario corrente di userID.
	MissingCards(ctx context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error)
	// SwapCards applica lo scambio in un'unica transazione; se una carta non e' piu'
	// dell'offerente non cambia nulla e ritorna *domain.StaleOfferError.
	SwapCards(ctx context.Context, swap domain.Swap) error
}

// Provisioner crea e distrugge il canale privato di una sessione.
type Provisioner interface {
	EnsureCategory(ctx context.Context, guildID, name string) (string, error)
	CreateChannel(ctx context.Context, req channel.Request) (string, error)
	DeleteChannel(ctx context.Context, ref string) error
}

// Notifier e' opzionale: se il Provisioner lo implementa riceve gli avvisi di offerta scaduta.
type Notifier interface {
	NotifyStale(ctx context.Context, ref string, notice channel.StaleNotice) error
}

// Options raccoglie la configurazione del manager.
type Options struct {
	CategoryName string
	IdleTimeout  time.Duration
	Now          func() time.Time
}

// InitiateRequest apre una sessione tra due utenti nello stesso server.
type InitiateRequest struct {
	GuildID     string
	InitiatorID string
	TargetID    string
}

// Manager tiene le sessioni aperte e applica la macchina a stati.
type Manager struct {
	logger       *slog.Logger
	repo         Repository
	provisioner  Provisioner
	locker       lock.Manager
	categoryName string
	idleTimeout  time.Duration
	now          func() time.Time
	tracer       trace.Tracer

	mu        sync.Mutex
	sessions  map[uuid.UUID]*entry
	byChannel map[string]uuid.UUID
}

// entry serializza le operazioni sulla stessa sessione.
type entry struct {
	mu      sync.Mutex
	session Session
}

// NewManager collega repository, provisioner dei canali e lock degli account.
func NewManager(logger *slog.Logger, repo Repository, provisioner Provisioner, locker lock.Manager, opts Options) *Manager {
	if opts.CategoryName == "" {
		opts.CategoryName = "Trading"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		logger:       logger,
		repo:         repo,
		provisioner:  provisioner,
		locker:       locker,
		categoryName: opts.CategoryName,
		idleTimeout:  opts.IdleTimeout,
		now:          opts.Now,
		tracer:       otel.Tracer("CardVault/trade"),
		sessions:     make(map[uuid.UUID]*entry),
		byChannel:    make(map[string]uuid.UUID),
	}
}

// Initiate valida le parti, prepara il canale privato e apre la sessione.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	initiatorID := strings.TrimSpace(req.InitiatorID)
	targetID := strings.TrimSpace(req.TargetID)

	// Lo scambio con se stessi fallisce sempre, anche senza registrazione.
	if initiatorID == "" || targetID == "" || initiatorID == targetID {
		return Session{}, domain.ErrInvalidPrincipal
	}
	if _, err := m.repo.GetAccount(ctx, initiatorID); err != nil {
		return Session{}, err
	}
	if _, err := m.repo.GetAccount(ctx, targetID); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return Session{}, fmt.Errorf("%w: target %s not registered", domain.ErrInvalidPrincipal, targetID)
		}
		return Session{}, err
	}

	categoryID, err := m.provisioner.EnsureCategory(ctx, req.GuildID, m.categoryName)
	if err != nil {
		m.logger.Error("errore creazione categoria trading", "error", err, "guild_id", req.GuildID)
		return Session{}, err
	}

	id := uuid.New()
	ref, err := m.provisioner.CreateChannel(ctx, channel.Request{
		GuildID:    req.GuildID,
		CategoryID: categoryID,
		Name:       "trade-" + id.String()[:8],
		Members:    []string{initiatorID, targetID},
	})
	if err != nil {
		m.logger.Error("errore creazione canale trade", "error", err, "guild_id", req.GuildID)
		return Session{}, err
	}

	now := m.now().UTC()
	e := &entry{session: Session{
		ID:          id,
		GuildID:     req.GuildID,
		InitiatorID: initiatorID,
		TargetID:    targetID,
		ChannelRef:  ref,
		Status:      domain.TradeOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	m.mu.Lock()
	m.sessions[id] = e
	m.byChannel[ref] = id
	m.mu.Unlock()

	m.logger.Info("sessione trade aperta", "session_id", id, "initiator_id", initiatorID, "target_id", targetID)
	return e.session.clone(), nil
}

// Offer aggiunge una carta posseduta all'offerta del chiamante e azzera le accettazioni.
func (m *Manager) Offer(ctx context.Context, sessionID uuid.UUID, userID string, cardID uuid.UUID) (Session, error) {
	return m.update(sessionID, userID, func(s *Session) error {
		missing, err := m.repo.MissingCards(ctx, userID, []uuid.UUID{cardID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrCardNotOwned, cardID)
		}
		s.addOffer(userID, cardID)
		s.resetAcceptance()
		return nil
	})
}

// Remove toglie una carta dall'offerta del chiamante e azzera le accettazioni.
func (m *Manager) Remove(_ context.Context, sessionID uuid.UUID, userID string, cardID uuid.UUID) (Session, error) {
	return m.update(sessionID, userID, func(s *Session) error {
		s.removeOffer(userID, cardID)
		s.resetAcceptance()
		return nil
	})
}

// Accept registra l'accettazione; con entrambe le parti d'accordo avvia il commit.
// Se il commit fallisce la sessione resta Open con le accettazioni azzerate.
func (m *Manager) Accept(ctx context.Context, sessionID uuid.UUID, userID string) (Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if err := checkOpenParty(s, userID); err != nil {
		return s.clone(), err
	}
	s.UpdatedAt = m.now().UTC()
	if !s.accept(userID) {
		return s.clone(), nil
	}

	if err := m.commit(ctx, s); err != nil {
		s.resetAcceptance()
		return s.clone(), err
	}

	s.Status = domain.TradeCommitted
	m.finish(ctx, s)
	m.logger.Info("sessione trade completata", "session_id", s.ID,
		"initiator_cards", len(s.InitiatorOffer), "target_cards", len(s.TargetOffer))
	return s.clone(), nil
}

// Cancel chiude la sessione senza toccare gli inventari.
func (m *Manager) Cancel(ctx context.Context, sessionID uuid.UUID, userID string) (Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if err := checkOpenParty(s, userID); err != nil {
		return s.clone(), err
	}
	s.Status = domain.TradeCancelled
	s.UpdatedAt = m.now().UTC()
	m.finish(ctx, s)
	m.logger.Info("sessione trade annullata", "session_id", s.ID, "by", userID)
	return s.clone(), nil
}

// Get ritorna lo snapshot della sessione.
func (m *Manager) Get(sessionID uuid.UUID) (Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

// ByChannel risolve la sessione dal canale in cui arriva il comando.
func (m *Manager) ByChannel(ref string) (Session, error) {
	m.mu.Lock()
	id, ok := m.byChannel[ref]
	m.mu.Unlock()
	if !ok {
		return Session{}, domain.ErrSessionNotFound
	}
	return m.Get(id)
}

// ListFor ritorna le sessioni aperte in cui userID e' parte, ordinate per creazione.
func (m *Manager) ListFor(userID string) []Session {
	var out []Session
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.session.IsParty(userID) && e.session.Status == domain.TradeOpen {
			out = append(out, e.session.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// update applica fn a una sessione Open di cui userID e' parte.
func (m *Manager) update(sessionID uuid.UUID, userID string, fn func(s *Session) error) (Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if err := checkOpenParty(s, userID); err != nil {
		return s.clone(), err
	}
	if err := fn(s); err != nil {
		return s.clone(), err
	}
	s.UpdatedAt = m.now().UTC()
	return s.clone(), nil
}

// commit rivalida le offerte, prende i lock brevi sugli account e applica lo scambio.
func (m *Manager) commit(ctx context.Context, s *Session) (err error) {
	ctx, span := m.tracer.Start(ctx, "trade.Commit", trace.WithAttributes(attribute.String("session_id", s.ID.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// 1) Rivalidazione contro l'inventario corrente di entrambe le parti.
	stale := &domain.StaleOfferError{}
	for _, side := range []struct {
		userID string
		offer  []uuid.UUID
	}{{s.InitiatorID, s.InitiatorOffer}, {s.TargetID, s.TargetOffer}} {
		if len(side.offer) == 0 {
			continue
		}
		missing, err := m.repo.MissingCards(ctx, side.userID, side.offer)
		if err != nil {
			return err
		}
		for _, id := range missing {
			stale.Add(side.userID, id)
		}
	}
	if !stale.Empty() {
		m.notifyStale(ctx, s, stale)
		return stale
	}

	// 2) Lock brevi sugli account, in ordine stabile per evitare deadlock.
	release, err := m.lockAccounts(ctx, s.InitiatorID, s.TargetID)
	if err != nil {
		return err
	}
	defer release()

	// 3) Scambio atomico: lo store ricontrolla la proprieta' dentro la transazione.
	if err := m.repo.SwapCards(ctx, s.swap(m.now().UTC())); err != nil {
		var staleErr *domain.StaleOfferError
		if errors.As(err, &staleErr) {
			m.notifyStale(ctx, s, staleErr)
			return staleErr
		}
		m.logger.Error("errore scambio carte", "error", err, "session_id", s.ID)
		return err
	}
	return nil
}

// lockAccounts acquisisce il lock account di entrambe le parti.
func (m *Manager) lockAccounts(ctx context.Context, userIDs ...string) (func(), error) {
	keys := lock.AccountKeys(userIDs...)

	type held struct{ key, token string }
	var acquired []held
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := m.locker.Release(context.Background(), acquired[i].key, acquired[i].token); err != nil {
				m.logger.Warn("errore rilascio lock account", "error", err, "key", acquired[i].key)
			}
		}
	}

	for _, key := range keys {
		token, ok, err := m.locker.Acquire(ctx, key)
		if err != nil {
			release()
			m.logger.Error("errore acquisizione lock account", "error", err, "key", key)
			return nil, domain.Unavailable("acquire account lock", err)
		}
		if !ok {
			release()
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountBusy, key)
		}
		acquired = append(acquired, held{key: key, token: token})
	}
	return release, nil
}

// notifyStale avvisa nel canale, se il provisioner lo supporta.
func (m *Manager) notifyStale(ctx context.Context, s *Session, stale *domain.StaleOfferError) {
	m.logger.Info("offerta non piu' valida, commit annullato", "session_id", s.ID, "missing", stale.Error())
	notifier, ok := m.provisioner.(Notifier)
	if !ok {
		return
	}
	if err := notifier.NotifyStale(ctx, s.ChannelRef, channel.StaleNotice{SessionID: s.ID, Missing: stale.Missing}); err != nil {
		m.logger.Warn("errore notifica offerta scaduta", "error", err, "session_id", s.ID)
	}
}

// finish chiude il canale e rimuove la sessione terminale dagli indici.
func (m *Manager) finish(ctx context.Context, s *Session) {
	if err := m.provisioner.DeleteChannel(ctx, s.ChannelRef); err != nil {
		m.logger.Warn("errore chiusura canale trade", "error", err, "session_id", s.ID, "channel", s.ChannelRef)
	}
	m.mu.Lock()
	delete(m.sessions, s.ID)
	delete(m.byChannel, s.ChannelRef)
	m.mu.Unlock()
}

func (m *Manager) lookup(sessionID uuid.UUID) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) entries() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e)
	}
	return out
}

// checkOpenParty verifica stato Open e appartenenza del chiamante.
func checkOpenParty(s *Session, userID string) error {
	if s.Status != domain.TradeOpen {
		return domain.ErrInvalidState
	}
	if !s.IsParty(userID) {
		return domain.ErrNotAParty
	}
	return nil
}
