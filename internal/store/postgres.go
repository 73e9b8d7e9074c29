package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
)

// DB is the subset of pgx functionality the store needs. Satisfied by both
// *pgxpool.Pool and pgx.Tx, so the same queries run inside and outside a
// transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&PostgresStore{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, payout_destination, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		a.UserID, a.Balance.String(), a.PayoutDestination, a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("account for user %s: %w", a.UserID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.db.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, COALESCE(payout_destination, ''), created_at
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &balance, &a.PayoutDestination, &a.CreatedAt)
	if notFound(err) {
		return nil, fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) UpdateAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
		userID, balance.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetPayoutDestination(ctx context.Context, userID, destination string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET payout_destination = $2 WHERE user_id = $1`,
		userID, destination,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// --- Instruments ---

func (s *PostgresStore) CreateInstrument(ctx context.Context, ins *model.Instrument) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO instruments (id, artwork_id, artist_id, contract_addr, unit_price, total_units, units_available, units_sold, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)`,
		ins.ID, ins.ArtworkID, ins.ArtistID, ins.ContractAddr,
		ins.UnitPrice.String(), ins.TotalUnits, ins.UnitsAvailable, ins.UnitsSold,
		ins.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("instrument %s: %w", ins.ID, ErrAlreadyExists)
	}
	return err
}

const instrumentCols = `id, artwork_id, artist_id, contract_addr, unit_price::TEXT, total_units, units_available, units_sold, created_at`

func scanInstrument(row pgx.Row) (*model.Instrument, error) {
	var ins model.Instrument
	var unitPrice string
	err := row.Scan(&ins.ID, &ins.ArtworkID, &ins.ArtistID, &ins.ContractAddr,
		&unitPrice, &ins.TotalUnits, &ins.UnitsAvailable, &ins.UnitsSold, &ins.CreatedAt)
	if err != nil {
		return nil, err
	}
	ins.UnitPrice, _ = decimal.NewFromString(unitPrice)
	return &ins, nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	ins, err := scanInstrument(s.db.QueryRow(ctx,
		`SELECT `+instrumentCols+` FROM instruments WHERE id = $1`, id))
	if notFound(err) {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", id, err)
	}
	return ins, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+instrumentCols+` FROM instruments ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		ins, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ins)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateInstrumentUnits(ctx context.Context, id string, available, sold int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE instruments SET units_available = $2, units_sold = $3 WHERE id = $1`,
		id, available, sold,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteInstrument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM instruments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, userID, instrumentID string) (*model.Holding, error) {
	var h model.Holding
	var avg string

	err := s.db.QueryRow(ctx,
		`SELECT user_id, instrument_id, quantity, avg_purchase_price::TEXT
		 FROM holdings WHERE user_id = $1 AND instrument_id = $2`,
		userID, instrumentID).
		Scan(&h.UserID, &h.InstrumentID, &h.Quantity, &avg)
	if notFound(err) {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, instrumentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, instrumentID, err)
	}

	h.AvgPurchasePrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

func (s *PostgresStore) listHoldings(ctx context.Context, where string, arg string) ([]model.Holding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, instrument_id, quantity, avg_purchase_price::TEXT
		 FROM holdings WHERE `+where+` = $1 ORDER BY user_id, instrument_id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg string
		if err := rows.Scan(&h.UserID, &h.InstrumentID, &h.Quantity, &avg); err != nil {
			return nil, err
		}
		h.AvgPurchasePrice, _ = decimal.NewFromString(avg)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.listHoldings(ctx, "user_id", userID)
}

func (s *PostgresStore) ListHoldingsByInstrument(ctx context.Context, instrumentID string) ([]model.Holding, error) {
	return s.listHoldings(ctx, "instrument_id", instrumentID)
}

func (s *PostgresStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO holdings (user_id, instrument_id, quantity, avg_purchase_price)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (user_id, instrument_id)
		 DO UPDATE SET quantity = $3, avg_purchase_price = $4::NUMERIC`,
		h.UserID, h.InstrumentID, h.Quantity, h.AvgPurchasePrice.String(),
	)
	return err
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, userID, instrumentID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM holdings WHERE user_id = $1 AND instrument_id = $2`,
		userID, instrumentID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s/%s: %w", userID, instrumentID, ErrNotFound)
	}
	return nil
}

// --- Sell orders ---

const orderCols = `id, instrument_id, user_id, quantity, unit_price::TEXT, status, created_at`

func scanOrder(row pgx.Row) (*model.SellOrder, error) {
	var o model.SellOrder
	var price string
	err := row.Scan(&o.ID, &o.InstrumentID, &o.UserID, &o.Quantity, &price, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.UnitPrice, _ = decimal.NewFromString(price)
	return &o, nil
}

func (s *PostgresStore) CreateSellOrder(ctx context.Context, o *model.SellOrder) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sell_orders (id, instrument_id, user_id, quantity, unit_price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		o.ID, o.InstrumentID, o.UserID, o.Quantity, o.UnitPrice.String(), o.Status, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderCols+` FROM sell_orders WHERE id = $1`, id))
	if notFound(err) {
		return nil, fmt.Errorf("sell order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sell order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) listOrders(ctx context.Context, query string, args ...any) ([]model.SellOrder, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SellOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOpenSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	return s.listOrders(ctx,
		`SELECT `+orderCols+` FROM sell_orders WHERE status = $1 ORDER BY created_at`,
		model.OrderOpen)
}

func (s *PostgresStore) ListSellOrdersByUser(ctx context.Context, userID string) ([]model.SellOrder, error) {
	return s.listOrders(ctx,
		`SELECT `+orderCols+` FROM sell_orders WHERE user_id = $1 ORDER BY created_at`,
		userID)
}

func (s *PostgresStore) UpdateSellOrder(ctx context.Context, o *model.SellOrder) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sell_orders SET quantity = $2, unit_price = $3::NUMERIC, status = $4 WHERE id = $1`,
		o.ID, o.Quantity, o.UnitPrice.String(), o.Status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sell order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// --- Transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, kind, instrument_id, unit_quantity, amount, status, counterparty_id, timestamp)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::NUMERIC, $7, NULLIF($8, ''), $9)`,
		t.ID, t.UserID, t.Kind, t.InstrumentID, t.UnitQuantity,
		t.Amount.String(), t.Status, t.CounterpartyID, t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, kind, COALESCE(instrument_id, ''), unit_quantity,
		        amount::TEXT, status, COALESCE(counterparty_id, ''), timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.InstrumentID, &t.UnitQuantity,
			&amount, &t.Status, &t.CounterpartyID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, owner_id, title, funding_goal, amount_raised, funds_disbursed, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		p.ID, p.OwnerID, p.Title, p.FundingGoal.String(), p.AmountRaised.String(),
		p.FundsDisbursed, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	var goal, raised string

	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, title, funding_goal::TEXT, amount_raised::TEXT, funds_disbursed, created_at
		 FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &goal, &raised, &p.FundsDisbursed, &p.CreatedAt)
	if notFound(err) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	p.FundingGoal, _ = decimal.NewFromString(goal)
	p.AmountRaised, _ = decimal.NewFromString(raised)
	return &p, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *model.Project) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE projects SET funding_goal = $2::NUMERIC, amount_raised = $3::NUMERIC, funds_disbursed = $4 WHERE id = $1`,
		p.ID, p.FundingGoal.String(), p.AmountRaised.String(), p.FundsDisbursed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	return nil
}
