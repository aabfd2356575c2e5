package main

import (
	"encoding/json"
	"flag"
	"fmt"
)

type tokenWire struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

func cmdGetToken(args []string) error {
	fs := flag.NewFlagSet("get-token", flag.ExitOnError)
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

	raw, err := c.call("get_token", map[string]interface{}{"service": *service, "account": *account})
	if err != nil {
		return err
	}
	var tok tokenWire
	if err := json.Unmarshal(raw, &tok); err != nil {
		return err
	}
	fmt.Println(tok.AccessToken)
	return nil
}
