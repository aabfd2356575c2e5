package main

import (
	"encoding/json"
	"flag"
	"fmt"
)

type statusResult struct {
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Accounts      int     `json:"accounts"`
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	raw, err := c.call("status", map[string]interface{}{})
	if err != nil {
		return err
	}
	var st statusResult
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	fmt.Printf("pid: %d\nuptime: %.0fs\naccounts: %d\n", st.PID, st.UptimeSeconds, st.Accounts)
	return nil
}
