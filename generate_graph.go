//go:build ignore

// Renders a sample report chart to graph.png: go run generate_graph.go
package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
	"gitlab.com/yelinaung/finmail/internal/report"
)

func main() {
	summary := models.NewSummary()
	for dt, usd := range map[models.DocumentType]string{
		models.DocumentInvoice:   "1840.00",
		models.DocumentReceipt:   "312.45",
		models.DocumentStatement: "920.10",
		models.DocumentOrder:     "455.00",
	} {
		amount := decimal.RequireFromString(usd)
		summary.Count++
		summary.ByType[dt] = 1
		summary.USDByType[dt] = amount
		summary.TotalUSD = summary.TotalUSD.Add(amount)
	}

	png, err := report.RenderChart(summary, "Totals by document type")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("graph.png", png, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(report.FormatReport(summary))
}
