package storage

// sqlite.go: journal consultable de trades cerrados y capital.
//
// El documento JSON de cada partición es la fuente de verdad; esta base solo
// replica lo que ya se cerró para poder consultarlo sin límite de retención.
//   - `closed_trades`: UNA fila por posición cerrada (UPSERT por id, el slug
//     puede llegar más tarde por el enriquecimiento).
//   - `capital_points`: una fila por ciclo y partición.
//   - Prune automático al arrancar: capital_points > 30d. Los trades no se podan.

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
    id           TEXT PRIMARY KEY,
    partition    TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    question     TEXT,
    slug         TEXT,
    side         TEXT NOT NULL,
    category     TEXT,
    confidence   INTEGER NOT NULL DEFAULT 0,
    entry_price  REAL NOT NULL,
    exit_price   REAL NOT NULL DEFAULT 0,
    size         REAL NOT NULL,
    entry_fees   REAL NOT NULL DEFAULT 0,
    exit_fees    REAL NOT NULL DEFAULT 0,
    profit       REAL NOT NULL DEFAULT 0,
    close_reason TEXT NOT NULL,
    degraded     INTEGER NOT NULL DEFAULT 0,
    opened_at    TEXT NOT NULL,
    closed_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS capital_points (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    partition TEXT NOT NULL,
    at        TEXT NOT NULL,
    capital   REAL NOT NULL,
    equity    REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_partition ON closed_trades(partition, closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_capital_part_at  ON capital_points(partition, at DESC);
`

const (
	retentionCapital = 30 * 24 * time.Hour
	// ancho fijo en UTC para que el orden de texto sea el orden temporal
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteJournal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db *sql.DB

	// ids ya escritos con su slug; evita reescrituras idénticas
	mu       sync.Mutex
	recorded map[string]string
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db, recorded: make(map[string]string)}
	j.pruneOld(context.Background(), time.Now())
	return j, nil
}

// RecordClose hace upsert de una posición cerrada.
func (j *SQLiteJournal) RecordClose(ctx context.Context, partition string, pos domain.Position) error {
	if pos.ClosedAt == nil {
		return fmt.Errorf("storage.RecordClose: position %s is not closed", pos.ID)
	}

	j.mu.Lock()
	slug, seen := j.recorded[pos.ID]
	j.mu.Unlock()
	if seen && slug == pos.Slug {
		return nil
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO closed_trades
			(id, partition, market_id, question, slug, side, category, confidence,
			 entry_price, exit_price, size, entry_fees, exit_fees, profit,
			 close_reason, degraded, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug
	`,
		pos.ID, partition, pos.MarketID, pos.Question, pos.Slug, string(pos.Side),
		string(pos.Category), pos.Confidence,
		pos.EntryPrice, pos.ExitPrice, pos.Size, pos.EntryFees, pos.ExitFees, pos.Profit,
		string(pos.CloseReason), boolToInt(pos.Degraded),
		pos.OpenedAt.UTC().Format(timeLayout), pos.ClosedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordClose %s: %w", pos.ID, err)
	}

	j.mu.Lock()
	j.recorded[pos.ID] = pos.Slug
	j.mu.Unlock()
	return nil
}

// RecordCapital añade un punto de la serie de capital.
func (j *SQLiteJournal) RecordCapital(ctx context.Context, partition string, point domain.CapitalPoint) error {
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO capital_points (partition, at, capital, equity) VALUES (?, ?, ?, ?)`,
		partition, point.At.UTC().Format(timeLayout), point.Capital, point.Equity,
	); err != nil {
		return fmt.Errorf("storage.RecordCapital: %w", err)
	}
	return nil
}

// RecentCloses devuelve los últimos trades cerrados de una partición, más reciente primero.
func (j *SQLiteJournal) RecentCloses(ctx context.Context, partition string, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, market_id, question, slug, side, category, confidence,
		       entry_price, exit_price, size, entry_fees, exit_fees, profit,
		       close_reason, degraded, opened_at, closed_at
		FROM closed_trades
		WHERE partition = ?
		ORDER BY closed_at DESC
		LIMIT ?
	`, partition, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentCloses: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                  domain.Position
			question, slug     sql.NullString
			category           sql.NullString
			side, reason       string
			degraded           int
			openedAt, closedAt string
		)
		if err := rows.Scan(
			&p.ID, &p.MarketID, &question, &slug, &side, &category, &p.Confidence,
			&p.EntryPrice, &p.ExitPrice, &p.Size, &p.EntryFees, &p.ExitFees, &p.Profit,
			&reason, &degraded, &openedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentCloses: scan row: %w", err)
		}
		p.Question = question.String
		p.Slug = slug.String
		if p.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.RecentCloses: trade %s: %w", p.ID, err)
		}
		p.Category = domain.Category(category.String)
		p.CloseReason = domain.CloseReason(reason)
		p.Degraded = degraded == 1
		p.Status = domain.PositionClosed
		p.OpenedAt, _ = time.Parse(timeLayout, openedAt)
		if t, err := time.Parse(timeLayout, closedAt); err == nil {
			p.ClosedAt = &t
		}
		if p.EntryPrice > 0 {
			p.Shares = p.Size / p.EntryPrice
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// JournalStats agrega todos los trades de una partición.
type JournalStats struct {
	Trades   int
	Wins     int
	Losses   int
	Profit   float64
	Fees     float64
	Degraded int
	ByReason map[domain.CloseReason]int
}

// Stats calcula los agregados de una partición. Los wins se cuentan igual que
// en el ledger: TP y resolución ganadora, más fallbacks con profit positivo.
func (j *SQLiteJournal) Stats(ctx context.Context, partition string) (JournalStats, error) {
	stats := JournalStats{ByReason: make(map[domain.CloseReason]int)}

	rows, err := j.db.QueryContext(ctx, `
		SELECT close_reason, COUNT(*), COALESCE(SUM(profit), 0),
		       COALESCE(SUM(entry_fees + exit_fees), 0), COALESCE(SUM(degraded), 0),
		       COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0)
		FROM closed_trades
		WHERE partition = ?
		GROUP BY close_reason
	`, partition)
	if err != nil {
		return stats, fmt.Errorf("storage.Stats: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			reason             string
			n, degraded, posit int
			profit, fees       float64
		)
		if err := rows.Scan(&reason, &n, &profit, &fees, &degraded, &posit); err != nil {
			return stats, fmt.Errorf("storage.Stats: scan row: %w", err)
		}
		cr := domain.CloseReason(reason)
		stats.ByReason[cr] = n
		stats.Trades += n
		stats.Profit += profit
		stats.Fees += fees
		stats.Degraded += degraded

		switch cr {
		case domain.CloseTakeProfit, domain.CloseResolvedWin:
			stats.Wins += n
		case domain.CloseStopLoss, domain.CloseResolvedLoss:
			stats.Losses += n
		default:
			stats.Wins += posit
			stats.Losses += n - posit
		}
	}
	return stats, rows.Err()
}

// CapitalSeries devuelve los puntos de capital desde since, más antiguo primero.
func (j *SQLiteJournal) CapitalSeries(ctx context.Context, partition string, since time.Time) ([]domain.CapitalPoint, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT at, capital, equity FROM capital_points
		WHERE partition = ? AND at >= ?
		ORDER BY at ASC
	`, partition, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage.CapitalSeries: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CapitalPoint
	for rows.Next() {
		var at string
		var p domain.CapitalPoint
		if err := rows.Scan(&at, &p.Capital, &p.Equity); err != nil {
			return nil, fmt.Errorf("storage.CapitalSeries: scan row: %w", err)
		}
		p.At, _ = time.Parse(timeLayout, at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// pruneOld elimina puntos de capital antiguos para mantener la DB ligera.
func (j *SQLiteJournal) pruneOld(ctx context.Context, now time.Time) {
	cutoff := now.UTC().Add(-retentionCapital).Format(timeLayout)
	j.db.ExecContext(ctx, `DELETE FROM capital_points WHERE at < ?`, cutoff)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
