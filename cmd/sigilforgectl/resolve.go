package main

import (
	"encoding/json"
	"flag"
	"fmt"
)

func cmdResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	ref := fs.String("ref", "", "auth:// reference (required)")
	fs.Parse(args)

	if *ref == "" {
		return fmt.Errorf("-ref is required")
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	raw, err := c.call("resolve", map[string]interface{}{"reference": *ref})
	if err != nil {
		return err
	}
	var result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	switch result.Type {
	case "token":
		var tok tokenWire
		if err := json.Unmarshal(result.Value, &tok); err != nil {
			return err
		}
		fmt.Println(tok.AccessToken)
	default:
		var s string
		if err := json.Unmarshal(result.Value, &s); err != nil {
			return err
		}
		fmt.Println(s)
	}
	return nil
}
