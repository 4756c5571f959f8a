package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"

	"CardVault/service/cards/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Accesso dati su Postgres: query SQL e traduzione in tipi di dominio.
// Gli errori del driver escono sempre avvolti in domain.ErrStoreUnavailable.

// codice SQLSTATE per unique_violation.
const uniqueViolation = "23505"

// Repo implementa i repository di account, claim, trade, access e catalogo.
type Repo struct {
	db *sql.DB
}

// NewRepo collega il repository a una connessione SQL.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// InsertAccount crea l'utente; un user_id gia' presente ritorna ErrAlreadyRegistered.
func (r *Repo) InsertAccount(ctx context.Context, acc domain.Account) error {
	const query = `
INSERT INTO users (user_id, registered_at, last_claim_at, level, experience, balance, schema_version)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, acc.UserID, acc.RegisteredAt, acc.LastClaimAt,
		acc.Level, acc.Experience, acc.Balance, domain.AccountSchemaVersion)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrAlreadyRegistered
		}
		slog.Error("errore inserimento utente", "error", err, "user_id", acc.UserID)
		return domain.Unavailable("insert account", err)
	}
	return nil
}

// GetAccount carica il profilo; utente assente ritorna ErrNotRegistered.
func (r *Repo) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	const query = `
SELECT user_id, registered_at, last_claim_at, level, experience, balance, schema_version
FROM users
WHERE user_id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return domain.Account{}, domain.ErrNotRegistered
	}
	if err != nil {
		if errors.Is(err, domain.ErrSchemaVersion) {
			return domain.Account{}, err
		}
		slog.Error("errore lettura utente", "error", err, "user_id", userID)
		return domain.Account{}, domain.Unavailable("get account", err)
	}
	return acc, nil
}

// ListAccounts ritorna tutti gli utenti in ordine di registrazione.
func (r *Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	const query = `
SELECT user_id, registered_at, last_claim_at, level, experience, balance, schema_version
FROM users
ORDER BY registered_at, user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.Unavailable("list accounts", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			if errors.Is(err, domain.ErrSchemaVersion) {
				return nil, err
			}
			return nil, domain.Unavailable("list accounts", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list accounts", err)
	}
	return out, nil
}

// CountAccounts conta gli utenti registrati (bootstrap).
func (r *Repo) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, domain.Unavailable("count accounts", err)
	}
	return n, nil
}

// ListInventory ritorna le copie possedute in ordine di acquisizione.
func (r *Repo) ListInventory(ctx context.Context, userID string) ([]domain.OwnedCard, error) {
	const query = `
SELECT uc.id, uc.user_id, uc.acquired_at, uc.schema_version,
       c.id, c.name, c.type, c.rarity, c.description, c.schema_version
FROM user_cards uc
JOIN cards c ON c.id = uc.card_id
WHERE uc.user_id = $1
ORDER BY uc.acquired_at, uc.seq`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("errore lettura inventario", "error", err, "user_id", userID)
		return nil, domain.Unavailable("list inventory", err)
	}
	defer rows.Close()

	var cards []domain.OwnedCard
	for rows.Next() {
		var (
			owned                    domain.OwnedCard
			ownedVersion, defVersion int
			cardType, rarity         string
		)
		if err := rows.Scan(&owned.ID, &owned.OwnerID, &owned.AcquiredAt, &ownedVersion,
			&owned.Card.ID, &owned.Card.Name, &cardType, &rarity, &owned.Card.Description, &defVersion); err != nil {
			return nil, domain.Unavailable("list inventory", err)
		}
		if err := domain.CheckSchemaVersion("owned_card", ownedVersion); err != nil {
			return nil, err
		}
		def, err := decodeCard(owned.Card, cardType, rarity, defVersion)
		if err != nil {
			return nil, err
		}
		owned.Card = def
		owned.AcquiredAt = owned.AcquiredAt.UTC()
		cards = append(cards, owned)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list inventory", err)
	}
	return cards, nil
}

// GrantClaim aggiorna last_claim_at solo se vale ancora prev e aggiunge la copia,
// tutto nella stessa transazione.
func (r *Repo) GrantClaim(ctx context.Context, userID string, prev, now time.Time, card domain.CardDefinition) (domain.OwnedCard, error) {
	now = now.UTC().Truncate(time.Microsecond)
	owned := domain.OwnedCard{ID: uuid.New(), OwnerID: userID, Card: card, AcquiredAt: now}

	err := r.withTx(ctx, "grant claim", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET last_claim_at = $1 WHERE user_id = $2 AND last_claim_at = $3`,
			now, userID, prev)
		if err != nil {
			return domain.Unavailable("grant claim", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return domain.Unavailable("grant claim", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
				return domain.Unavailable("grant claim", err)
			}
			if !exists {
				return domain.ErrNotRegistered
			}
			return domain.ErrClaimConflict
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_cards (id, user_id, card_id, acquired_at, schema_version) VALUES ($1, $2, $3, $4, $5)`,
			owned.ID, userID, card.ID, now, domain.OwnedCardSchemaVersion); err != nil {
			return domain.Unavailable("grant claim", err)
		}
		return nil
	})
	if err != nil {
		return domain.OwnedCard{}, err
	}
	return owned, nil
}

// MissingCards ritorna gli id tra ids che userID non possiede.
func (r *Repo) MissingCards(ctx context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM user_cards WHERE user_id = $1 AND id = ANY($2::uuid[])`,
		userID, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, domain.Unavailable("missing cards", err)
	}
	defer rows.Close()

	owned := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Unavailable("missing cards", err)
		}
		owned[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("missing cards", err)
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if !owned[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// SwapCards blocca le righe coinvolte, verifica i proprietari e sposta le copie.
// Una copia non piu' dell'offerente annulla tutta la transazione con *StaleOfferError.
func (r *Repo) SwapCards(ctx context.Context, swap domain.Swap) error {
	at := swap.At.UTC().Truncate(time.Microsecond)
	expected := make(map[uuid.UUID]string, len(swap.InitiatorCards)+len(swap.TargetCards))
	for _, id := range swap.InitiatorCards {
		expected[id] = swap.InitiatorID
	}
	for _, id := range swap.TargetCards {
		expected[id] = swap.TargetID
	}
	if len(expected) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(expected))
	for id := range expected {
		ids = append(ids, id)
	}
	// Ordine stabile delle righe bloccate.
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	return r.withTx(ctx, "swap cards", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, user_id FROM user_cards WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return domain.Unavailable("swap cards", err)
		}
		current := make(map[uuid.UUID]string, len(ids))
		for rows.Next() {
			var (
				id    uuid.UUID
				owner string
			)
			if err := rows.Scan(&id, &owner); err != nil {
				rows.Close()
				return domain.Unavailable("swap cards", err)
			}
			current[id] = owner
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return domain.Unavailable("swap cards", err)
		}
		rows.Close()

		stale := &domain.StaleOfferError{}
		for _, id := range ids {
			if current[id] != expected[id] {
				stale.Add(expected[id], id)
			}
		}
		if !stale.Empty() {
			return stale
		}

		for _, id := range ids {
			receiver := swap.TargetID
			if expected[id] == swap.TargetID {
				receiver = swap.InitiatorID
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE user_cards SET user_id = $1, acquired_at = $2 WHERE id = $3`,
				receiver, at, id); err != nil {
				return domain.Unavailable("swap cards", err)
			}
		}
		return nil
	})
}

// FindStaff ritorna il grant dell'utente; ok=false se non e' staff.
func (r *Repo) FindStaff(ctx context.Context, userID string) (domain.StaffGrant, bool, error) {
	var (
		role    string
		version int
	)
	err := r.db.QueryRowContext(ctx, `SELECT role, schema_version FROM staff WHERE user_id = $1`, userID).Scan(&role, &version)
	if err == sql.ErrNoRows {
		return domain.StaffGrant{}, false, nil
	}
	if err != nil {
		slog.Error("errore lettura staff", "error", err, "user_id", userID)
		return domain.StaffGrant{}, false, domain.Unavailable("find staff", err)
	}
	grant, err := decodeStaff(userID, role, version)
	if err != nil {
		return domain.StaffGrant{}, false, err
	}
	return grant, true, nil
}

// UpsertStaff assegna o sostituisce il ruolo (un solo grant per utente).
func (r *Repo) UpsertStaff(ctx context.Context, grant domain.StaffGrant) error {
	const query = `
INSERT INTO staff (user_id, role, schema_version) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, schema_version = EXCLUDED.schema_version`

	if _, err := r.db.ExecContext(ctx, query, grant.UserID, string(grant.Role), domain.StaffSchemaVersion); err != nil {
		return domain.Unavailable("upsert staff", err)
	}
	return nil
}

// DeleteStaff rimuove il grant; nessun errore se non esiste.
func (r *Repo) DeleteStaff(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM staff WHERE user_id = $1`, userID); err != nil {
		return domain.Unavailable("delete staff", err)
	}
	return nil
}

// ListStaff ritorna tutti i grant ordinati per user_id.
func (r *Repo) ListStaff(ctx context.Context) ([]domain.StaffGrant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, role, schema_version FROM staff ORDER BY user_id`)
	if err != nil {
		return nil, domain.Unavailable("list staff", err)
	}
	defer rows.Close()

	var out []domain.StaffGrant
	for rows.Next() {
		var (
			userID, role string
			version      int
		)
		if err := rows.Scan(&userID, &role, &version); err != nil {
			return nil, domain.Unavailable("list staff", err)
		}
		grant, err := decodeStaff(userID, role, version)
		if err != nil {
			return nil, err
		}
		out = append(out, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list staff", err)
	}
	return out, nil
}

// ListCards ritorna il catalogo persistito in ordine di id.
func (r *Repo) ListCards(ctx context.Context) ([]domain.CardDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, type, rarity, description, schema_version FROM cards ORDER BY id`)
	if err != nil {
		return nil, domain.Unavailable("list cards", err)
	}
	defer rows.Close()

	var out []domain.CardDefinition
	for rows.Next() {
		var (
			def              domain.CardDefinition
			cardType, rarity string
			version          int
		)
		if err := rows.Scan(&def.ID, &def.Name, &cardType, &rarity, &def.Description, &version); err != nil {
			return nil, domain.Unavailable("list cards", err)
		}
		def, err := decodeCard(def, cardType, rarity, version)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list cards", err)
	}
	return out, nil
}

// CountCards conta le definizioni presenti (bootstrap).
func (r *Repo) CountCards(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, domain.Unavailable("count cards", err)
	}
	return n, nil
}

// InsertCards salva le definizioni in un'unica transazione.
func (r *Repo) InsertCards(ctx context.Context, defs []domain.CardDefinition) error {
	return r.withTx(ctx, "insert cards", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO cards (id, name, type, rarity, description, schema_version) VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return domain.Unavailable("insert cards", err)
		}
		defer stmt.Close()
		for _, def := range defs {
			if _, err := stmt.ExecContext(ctx, def.ID, def.Name, string(def.Type), string(def.Rarity),
				def.Description, domain.CardSchemaVersion); err != nil {
				return domain.Unavailable("insert cards", err)
			}
		}
		return nil
	})
}

// withTx esegue fn in una transazione; rollback su qualsiasi errore.
func (r *Repo) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("errore apertura transazione", "error", err, "op", op)
		return domain.Unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		slog.Error("errore commit transazione", "error", err, "op", op)
		return domain.Unavailable(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		acc     domain.Account
		version int
	)
	if err := row.Scan(&acc.UserID, &acc.RegisteredAt, &acc.LastClaimAt, &acc.Level,
		&acc.Experience, &acc.Balance, &version); err != nil {
		return domain.Account{}, err
	}
	if err := domain.CheckSchemaVersion("account", version); err != nil {
		return domain.Account{}, err
	}
	acc.RegisteredAt = acc.RegisteredAt.UTC()
	acc.LastClaimAt = acc.LastClaimAt.UTC()
	return acc, nil
}

func decodeCard(def domain.CardDefinition, cardType, rarity string, version int) (domain.CardDefinition, error) {
	if err := domain.CheckSchemaVersion("card", version); err != nil {
		return domain.CardDefinition{}, err
	}
	t, err := domain.ParseCardType(cardType)
	if err != nil {
		return domain.CardDefinition{}, err
	}
	rr, err := domain.ParseRarity(rarity)
	if err != nil {
		return domain.CardDefinition{}, err
	}
	def.Type = t
	def.Rarity = rr
	return def, nil
}

func decodeStaff(userID, role string, version int) (domain.StaffGrant, error) {
	if err := domain.CheckSchemaVersion("staff", version); err != nil {
		return domain.StaffGrant{}, err
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return domain.StaffGrant{}, err
	}
	return domain.StaffGrant{UserID: userID, Role: parsed}, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
