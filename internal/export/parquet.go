// Package export writes stored bars and trades to Parquet files for offline
// analysis and model training.
package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/parquet-go/parquet-go"

	"github.com/skyi28/ML-Trader/internal/model"
)

// BarRow is the Parquet layout of one bar. Indicator columns vary by
// configuration, so they are kept as one JSON object.
type BarRow struct {
	Instrument string  `parquet:"instrument"`
	TS         int64   `parquet:"ts,timestamp(millisecond)"`
	Open       float64 `parquet:"open"`
	Close      float64 `parquet:"close"`
	Indicators string  `parquet:"indicators,optional"`
}

// TradeRow is the Parquet layout of one trade.
type TradeRow struct {
	TradeID    int64   `parquet:"trade_id"`
	Owner      string  `parquet:"owner"`
	BotID      int64   `parquet:"bot_id"`
	TS         int64   `parquet:"ts,timestamp(millisecond)"`
	Instrument string  `parquet:"instrument"`
	Side       string  `parquet:"side"`
	EntryPrice float64 `parquet:"entry_price"`
	ClosePrice float64 `parquet:"close_price"`
	MoneyAfter float64 `parquet:"money_after"`
	ProfitAbs  float64 `parquet:"profit_abs"`
	ProfitRel  float64 `parquet:"profit_rel"`
	TradingFee float64 `parquet:"trading_fee"`
	TPTrigger  bool    `parquet:"tp_trigger"`
	SLTrigger  bool    `parquet:"sl_trigger"`
}

func barRows(bars []model.Bar) ([]BarRow, error) {
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Instrument: b.Instrument,
			TS:         b.TS.UnixMilli(),
			Open:       b.Open,
			Close:      b.Close,
		}
		if len(b.Indicators) > 0 {
			s, err := sonic.MarshalString(b.Indicators)
			if err != nil {
				return nil, fmt.Errorf("encode indicators at %s: %w", b.TS.Format(time.RFC3339), err)
			}
			rows[i].Indicators = s
		}
	}
	return rows, nil
}

// WriteBars writes bars to w as one Parquet file.
func WriteBars(w io.Writer, bars []model.Bar) error {
	rows, err := barRows(bars)
	if err != nil {
		return err
	}
	pw := parquet.NewGenericWriter[BarRow](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write bars: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close bar writer: %w", err)
	}
	return nil
}

// WriteTrades writes trades to w as one Parquet file.
func WriteTrades(w io.Writer, trades []model.Trade) error {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{
			TradeID:    t.ID,
			Owner:      t.Owner,
			BotID:      t.BotID,
			TS:         t.TS.UnixMilli(),
			Instrument: t.Instrument,
			Side:       string(t.Side),
			EntryPrice: t.EntryPrice,
			ClosePrice: t.ClosePrice,
			MoneyAfter: t.MoneyAfter,
			ProfitAbs:  t.ProfitAbs,
			ProfitRel:  t.ProfitRel,
			TradingFee: t.TradingFee,
			TPTrigger:  t.TPTrigger,
			SLTrigger:  t.SLTrigger,
		}
	}
	pw := parquet.NewGenericWriter[TradeRow](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close trade writer: %w", err)
	}
	return nil
}

// ReadBars decodes a file produced by WriteBars.
func ReadBars(data []byte) ([]model.Bar, error) {
	rows, err := parquet.Read[BarRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	out := make([]model.Bar, len(rows))
	for i, r := range rows {
		out[i] = model.Bar{
			Instrument: r.Instrument,
			TS:         time.UnixMilli(r.TS).UTC(),
			Open:       r.Open,
			Close:      r.Close,
		}
		if r.Indicators != "" {
			if err := sonic.UnmarshalString(r.Indicators, &out[i].Indicators); err != nil {
				return nil, fmt.Errorf("decode indicators row %d: %w", i, err)
			}
		}
	}
	return out, nil
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
