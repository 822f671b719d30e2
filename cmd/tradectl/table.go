package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/portfolio"
)

const tsLayout = "2006-01-02 15:04"

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func printBots(w io.Writer, bots []model.Bot) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Owner", "Instrument", "Model", "Features", "Position", "Entry", "Money", "Running"})
	for _, b := range bots {
		t.AppendRow(table.Row{
			b.ID, b.Owner, b.Instrument, b.ModelKind, strings.Join(b.Indicators, ","),
			b.Position, fmt.Sprintf("%.2f", b.EntryPrice), fmt.Sprintf("%.2f", b.Money), b.Running,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(bots)})
	t.Render()
}

func exitLabel(tr model.Trade) string {
	switch {
	case tr.TPTrigger:
		return "TP"
	case tr.SLTrigger:
		return "SL"
	}
	return ""
}

func printTrades(w io.Writer, trades []model.Trade) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Trade", "Time", "Side", "Entry", "Close", "Profit %", "Profit", "Money After", "Exit"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.ID, tr.TS.Format(tsLayout), tr.Side,
			fmt.Sprintf("%.2f", tr.EntryPrice), fmt.Sprintf("%.2f", tr.ClosePrice),
			colorSigned(tr.ProfitRel*100, "%.3f"), colorSigned(tr.ProfitAbs, "%.2f"),
			fmt.Sprintf("%.2f", tr.MoneyAfter), exitLabel(tr),
		})
	}
	t.Render()
}

type reportRow struct {
	Bot     model.Bot
	Price   float64
	Summary portfolio.PnLSummary
}

func printReport(w io.Writer, rows []reportRow) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Bot", "Instrument", "Position", "Trades", "Win %", "Realized", "Open", "Return %", "Max DD %", "TP/SL"})
	for _, r := range rows {
		s := r.Summary
		t.AppendRow(table.Row{
			r.Bot.ID, r.Bot.Instrument, r.Bot.Position, s.TotalTrades,
			fmt.Sprintf("%.1f", s.WinRate*100),
			colorSigned(s.RealizedPnL, "%.2f"), colorSigned(s.UnrealizedPnL, "%.2f"),
			colorSigned(s.Return*100, "%.2f"), fmt.Sprintf("%.2f", s.MaxDrawdown*100),
			fmt.Sprintf("%d/%d", s.TPExits, s.SLExits),
		})
	}
	t.Render()
}

func colorSigned(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	switch {
	case v > 0:
		return text.FgGreen.Sprint(s)
	case v < 0:
		return text.FgRed.Sprint(s)
	}
	return s
}
