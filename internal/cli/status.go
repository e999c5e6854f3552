package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/accrue/internal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#9C9C9C"})
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

// RenderStatus formats st for the terminal.
func RenderStatus(st internal.Status, baseCurrency string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("PORTFOLIO"))
	fmt.Fprintf(&b, "%s %s %s\n", labelStyle.Render("cash:"), st.Portfolio.CashBalance.StringFixed(2), baseCurrency)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("version:"), st.Portfolio.Version)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("trades:"), st.Trades)

	ids := st.Portfolio.InstrumentIDs()
	if len(ids) == 0 {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("no holdings"))
	}
	for _, id := range ids {
		h := st.Portfolio.Holdings[id]
		fmt.Fprintf(&b, "  %-12s %s shares @ %s avg (cost %s)\n",
			id, h.Shares.String(), h.AverageCost.StringFixed(2), h.TotalCost.StringFixed(2))
	}

	fmt.Fprintf(&b, "\n%s\n", titleStyle.Render("RECURRING PLANS"))
	if len(st.Plans) == 0 {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("no plans"))
	}
	for _, p := range st.Plans {
		fmt.Fprintf(&b, "  %-12s %s %s every %s, %s, next %s, %d buys, invested %s\n",
			p.InstrumentID, p.AmountPerExecution.StringFixed(2), baseCurrency, p.Frequency, p.Status,
			p.NextExecutionAt.Format("2006-01-02"), p.PurchaseCount, p.TotalInvested.StringFixed(2))
	}

	failed := 0
	for _, rec := range st.Executions {
		if !rec.Success {
			failed++
		}
	}
	fmt.Fprintf(&b, "%s %d (%d failed)", labelStyle.Render("executions:"), len(st.Executions), failed)
	if last, ok := lastExecution(st.Executions); ok {
		fmt.Fprintf(&b, "\n%s %s %s", labelStyle.Render("last:"), last.ExecutedAt.Format("2006-01-02 15:04"), outcome(last))
	}

	return boxStyle.Render(b.String())
}

func lastExecution(records []domain.ExecutionRecord) (domain.ExecutionRecord, bool) {
	if len(records) == 0 {
		return domain.ExecutionRecord{}, false
	}
	return records[len(records)-1], true
}

func outcome(rec domain.ExecutionRecord) string {
	if rec.Success {
		return fmt.Sprintf("bought %s %s", rec.SharesAcquired.String(), rec.InstrumentID)
	}
	if rec.ErrorReason != nil {
		return fmt.Sprintf("%s failed: %s", rec.InstrumentID, *rec.ErrorReason)
	}
	return rec.InstrumentID + " failed"
}
