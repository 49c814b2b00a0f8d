package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/alanyoungcy/betledger/internal/client"
	"github.com/alanyoungcy/betledger/internal/domain"
)

func renderMarkets(markets []domain.Market, now time.Time) error {
	data := pterm.TableData{{"ID", "Question", "Ends", "Side A", "Side B", "Status", "Winner"}}
	for _, m := range markets {
		winner := "-"
		if side, ok := m.WinningSide(); ok {
			winner = side.String()
		}
		data = append(data, []string{
			strconv.FormatUint(m.ID, 10),
			m.Question,
			m.EndTime.UTC().Format(time.RFC3339),
			m.TotalSideA.Dec(),
			m.TotalSideB.Dec(),
			statusLabel(m.Status(now)),
			winner,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderAudit(entries []client.APIAuditEntry) error {
	data := pterm.TableData{{"ID", "Time", "Event", "Detail"}}
	for _, e := range entries {
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Event,
			detailLine(e.Detail),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// detailLine renders a detail map as sorted key=value pairs.
func detailLine(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}

func statusLabel(s domain.MarketStatus) string {
	switch s {
	case domain.MarketStatusOpen:
		return pterm.LightGreen(string(s))
	case domain.MarketStatusClosed:
		return pterm.LightYellow(string(s))
	default:
		return pterm.LightCyan(string(s))
	}
}

func renderKV(rows [][2]string) error {
	data := make(pterm.TableData, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{pterm.Bold.Sprint(r[0]), r[1]})
	}
	return pterm.DefaultTable.WithData(data).Render()
}
