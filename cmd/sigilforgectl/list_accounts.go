package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

type accountWire struct {
	Service     string   `json:"service"`
	ID          string   `json:"id"`
	Scopes      []string `json:"scopes"`
	CreatedAt   string   `json:"created_at"`
	LastUsed    *string  `json:"last_used,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

func cmdListAccounts(args []string) error {
	fs := flag.NewFlagSet("list-accounts", flag.ExitOnError)
	service := fs.String("service", "", "filter to one service")
	fs.Parse(args)

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	params := map[string]interface{}{}
	if *service != "" {
		params["service"] = *service
	}
	raw, err := c.call("list_accounts", params)
	if err != nil {
		return err
	}
	var result struct {
		Accounts []accountWire `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	printAccountTable(result.Accounts)
	return nil
}

func printAccountTable(accounts []accountWire) {
	headers := []string{"SERVICE", "ACCOUNT", "SCOPES", "LAST USED"}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		lastUsed := "-"
		if a.LastUsed != nil {
			lastUsed = *a.LastUsed
		}
		rows = append(rows, []string{a.Service, a.ID, strings.Join(a.Scopes, ","), lastUsed})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	printRow(headers, widths)
	for _, row := range rows {
		printRow(row, widths)
	}
	if len(rows) == 0 {
		fmt.Println("(no accounts)")
	}
}

func printRow(cells []string, widths []int) {
	var b strings.Builder
	for i, cell := range cells {
		b.WriteString(cell)
		pad := widths[i] - runewidth.StringWidth(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", pad+2))
		}
	}
	fmt.Println(strings.TrimRight(b.String(), " "))
}
