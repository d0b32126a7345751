// Package backtest 在历史 K 线上回放策略并搜索参数。
//
// 回放本身是纯内存计算；历史数据落在 CandleDir 下按
// 币种/周期拆分的 sqlite 文件里，缺口从交易所公共接口回补。
package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"maru/internal/market"
	"maru/internal/pkg/symbol"

	_ "modernc.org/sqlite"
)

// History 管理本地 K 线档案，一个 币种@周期 对应一个库文件。
type History struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewHistory(root string) (*History, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("candle dir 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &History{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for k, db := range h.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(h.dbs, k)
	}
	return firstErr
}

func (h *History) db(coin, interval string) (*sql.DB, error) {
	coin = symbol.NormalizeCoin(coin)
	interval = strings.ToLower(strings.TrimSpace(interval))
	if coin == "" || interval == "" {
		return nil, fmt.Errorf("coin/interval 不能为空")
	}
	key := coin + "@" + interval
	h.mu.Lock()
	defer h.mu.Unlock()
	if db, ok := h.dbs[key]; ok && db != nil {
		return db, nil
	}
	path := filepath.Join(h.root, coin, interval+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	h.dbs[key] = db
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS candles (
		open_time  INTEGER PRIMARY KEY,
		close_time INTEGER NOT NULL,
		open       REAL NOT NULL,
		high       REAL NOT NULL,
		low        REAL NOT NULL,
		close      REAL NOT NULL,
		volume     REAL NOT NULL,
		trades     INTEGER DEFAULT 0
	)`)
	return err
}

// Insert 批量写入 K 线，open_time 相同的行被覆盖。
func (h *History) Insert(ctx context.Context, coin, interval string, cs market.Candles) (int, error) {
	if len(cs) == 0 {
		return 0, nil
	}
	db, err := h.db(coin, interval)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range cs {
		if c.OpenTime <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// Count 返回档案中已有的 K 线根数。
func (h *History) Count(ctx context.Context, coin, interval string) (int64, error) {
	db, err := h.db(coin, interval)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM candles`).Scan(&n)
	return n, err
}

// Recent 返回最近 limit 根 K 线，按 open_time 升序。
func (h *History) Recent(ctx context.Context, coin, interval string, limit int) (market.Candles, error) {
	db, err := h.db(coin, interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles ORDER BY open_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list market.Candles
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// EarliestOpenTime 返回最早一根 K 线的 open_time，空档案返回 0。
func (h *History) EarliestOpenTime(ctx context.Context, coin, interval string) (int64, error) {
	db, err := h.db(coin, interval)
	if err != nil {
		return 0, err
	}
	var ts sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT MIN(open_time) FROM candles`).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}
