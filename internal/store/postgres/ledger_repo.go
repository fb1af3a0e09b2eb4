package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// LedgerRepo implements domain.LedgerRepository on the portfolio and trades
// tables. Cash moves as in-place UPDATE deltas, which take the portfolio row
// lock for the rest of their transaction.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo creates a new LedgerRepo backed by the given connection pool.
func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const portfolioCols = `balance, initial_balance, realized_pnl, updated_at`

const tradeSelectCols = `id, opened_at, market_id, question, side,
	entry_price, current_price, size, pnl, status, strategy,
	confidence, edge, mode, reasoning, token_id, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		var (
			p                         domain.Position
			side, status, strat, mode string
		)
		if err := rows.Scan(
			&p.ID, &p.OpenedAt, &p.MarketID, &p.Question, &side,
			&p.EntryPrice, &p.CurrentPrice, &p.Size, &p.PnL, &status, &strat,
			&p.Confidence, &p.Edge, &mode, &p.Reasoning, &p.TokenID, &p.ClosedAt,
		); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		p.Strategy = domain.StrategyName(strat)
		p.Mode = domain.RiskMode(mode)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Load returns the portfolio and every trade, creating the portfolio row
// with initialBalance on first use.
func (r *LedgerRepo) Load(ctx context.Context, initialBalance float64) (domain.Portfolio, []domain.Position, error) {
	const seed = `
		INSERT INTO portfolio (id, balance, initial_balance, realized_pnl, updated_at)
		VALUES (1, $1, $1, 0, NOW())
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, seed, initialBalance); err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("postgres: seed portfolio: %w", err)
	}

	var p domain.Portfolio
	err := r.pool.QueryRow(ctx,
		`SELECT `+portfolioCols+` FROM portfolio WHERE id = 1`,
	).Scan(&p.Balance, &p.InitialBalance, &p.RealizedPnL, &p.UpdatedAt)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("postgres: load portfolio: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+tradeSelectCols+` FROM trades ORDER BY id`)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("postgres: load trades: %w", err)
	}
	positions, err := scanTradeRows(rows)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return p, positions, nil
}

// InsertPosition debits the portfolio and inserts the trade in one
// transaction. The debit is conditional on the stored balance, so
// concurrent writers can never overdraw it.
func (r *LedgerRepo) InsertPosition(ctx context.Context, pos domain.Position, cost float64) (domain.Position, domain.Portfolio, error) {
	var p domain.Portfolio
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const debit = `
			UPDATE portfolio SET balance = balance - $1, updated_at = $2
			WHERE id = 1 AND balance >= $1
			RETURNING ` + portfolioCols
		err := tx.QueryRow(ctx, debit, cost, pos.OpenedAt).Scan(&p.Balance, &p.InitialBalance, &p.RealizedPnL, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("cost %.2f exceeds balance: %w", cost, domain.ErrInsufficientFunds)
		}
		if err != nil {
			return fmt.Errorf("debit portfolio: %w", err)
		}

		const insert = `
			INSERT INTO trades (
				opened_at, market_id, question, side,
				entry_price, current_price, size, pnl, status, strategy,
				confidence, edge, mode, reasoning, token_id, closed_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16
			)
			RETURNING id`
		if err := tx.QueryRow(ctx, insert,
			pos.OpenedAt, pos.MarketID, pos.Question, string(pos.Side),
			pos.EntryPrice, pos.CurrentPrice, pos.Size, pos.PnL, string(pos.Status), string(pos.Strategy),
			pos.Confidence, pos.Edge, string(pos.Mode), pos.Reasoning, pos.TokenID, pos.ClosedAt,
		).Scan(&pos.ID); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, domain.Portfolio{}, fmt.Errorf("postgres: insert position %s: %w", pos.MarketID, err)
	}
	return pos, p, nil
}

// UpdatePosition stores a refreshed mark on an open trade.
func (r *LedgerRepo) UpdatePosition(ctx context.Context, pos domain.Position) error {
	const query = `
		UPDATE trades SET current_price = $2, pnl = $3
		WHERE id = $1 AND status = 'open'`
	tag, err := r.pool.Exec(ctx, query, pos.ID, pos.CurrentPrice, pos.PnL)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %d: %w", pos.ID, domain.ErrNotFound)
	}
	return nil
}

// ClosePosition freezes the trade and credits the portfolio in one
// transaction. Only the first close of a trade credits anything.
func (r *LedgerRepo) ClosePosition(ctx context.Context, pos domain.Position, proceeds float64) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const update = `
			UPDATE trades
			SET status = $3, current_price = $4, pnl = $5, closed_at = $6
			WHERE id = $1 AND market_id = $2 AND status = 'open'`
		tag, err := tx.Exec(ctx, update, pos.ID, pos.MarketID, string(pos.Status), pos.CurrentPrice, pos.PnL, pos.ClosedAt)
		if err != nil {
			return fmt.Errorf("close trade: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM trades WHERE id = $1 AND market_id = $2`, pos.ID, pos.MarketID).Scan(&status)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check trade: %w", err)
			}
			return domain.ErrPositionClosed
		}

		const credit = `
			UPDATE portfolio
			SET balance = balance + $1, realized_pnl = realized_pnl + $2, updated_at = $3
			WHERE id = 1
			RETURNING ` + portfolioCols
		if err := tx.QueryRow(ctx, credit, proceeds, pos.PnL, pos.ClosedAt).Scan(&p.Balance, &p.InitialBalance, &p.RealizedPnL, &p.UpdatedAt); err != nil {
			return fmt.Errorf("credit portfolio: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("postgres: close position %d: %w", pos.ID, err)
	}
	return p, nil
}

// Reset deletes every trade and rewrites the portfolio row.
func (r *LedgerRepo) Reset(ctx context.Context, p domain.Portfolio) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockPortfolio(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM trades`); err != nil {
			return fmt.Errorf("delete trades: %w", err)
		}
		if _, err := tx.Exec(ctx, `ALTER SEQUENCE trades_id_seq RESTART WITH 1`); err != nil {
			return fmt.Errorf("restart trade ids: %w", err)
		}
		_, err := tx.Exec(ctx, `
			UPDATE portfolio
			SET balance = $1, initial_balance = $2, realized_pnl = $3, updated_at = $4
			WHERE id = 1`,
			p.Balance, p.InitialBalance, p.RealizedPnL, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("reset portfolio: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return nil
}

func lockPortfolio(ctx context.Context, tx pgx.Tx) error {
	var id int
	if err := tx.QueryRow(ctx, `SELECT id FROM portfolio WHERE id = 1 FOR UPDATE`).Scan(&id); err != nil {
		return fmt.Errorf("lock portfolio: %w", err)
	}
	return nil
}

var _ domain.LedgerRepository = (*LedgerRepo)(nil)
