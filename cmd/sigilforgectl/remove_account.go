package main

import (
	"encoding/json"
	"flag"
	"fmt"
)

func cmdRemoveAccount(args []string) error {
	fs := flag.NewFlagSet("remove-account", flag.ExitOnError)
	service := fs.String("service", "", "service id (required)")
	account := fs.String("account", "", "account id (required)")
	fs.Parse(args)

	if *service == "" || *account == "" {
		return fmt.Errorf("-service and -account are required")
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	raw, err := c.call("remove_account", map[string]interface{}{"service": *service, "account": *account})
	if err != nil {
		return err
	}
	var result struct {
		Removed bool `json:"removed"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	if result.Removed {
		fmt.Printf("removed %s/%s\n", *service, *account)
	} else {
		fmt.Printf("no such account: %s/%s\n", *service, *account)
	}
	return nil
}
