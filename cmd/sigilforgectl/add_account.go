package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func cmdAddAccount(args []string) error {
	fs := flag.NewFlagSet("add-account", flag.ExitOnError)
	service := fs.String("service", "", "service id (required)")
	account := fs.String("account", "", "account id (required)")
	flow := fs.String("flow", "pkce", "pkce, device, or static")
	scopes := fs.String("scopes", "", "comma-separated scopes")
	displayName := fs.String("display-name", "", "human-readable label")
	kind := fs.String("kind", "", "credential kind for flow=static (default api_key)")
	fs.Parse(args)

	if *service == "" || *account == "" {
		return fmt.Errorf("-service and -account are required")
	}

	params := map[string]interface{}{
		"service": *service,
		"account": *account,
		"flow":    *flow,
	}
	if *scopes != "" {
		params["scopes"] = strings.Split(*scopes, ",")
	}
	if *displayName != "" {
		params["display_name"] = *displayName
	}

	if *flow == "static" {
		secretValue, err := readSecret()
		if err != nil {
			return err
		}
		params["secret"] = secretValue
		if *kind != "" {
			params["kind"] = *kind
		}
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	c.onNotify = func(method string, raw json.RawMessage) {
		switch method {
		case "authorization_url":
			var p struct {
				URL string `json:"url"`
			}
			_ = json.Unmarshal(raw, &p)
			fmt.Printf("open this URL to authorize: %s\n", p.URL)
		case "device_code":
			var p struct {
				UserCode        string `json:"user_code"`
				VerificationURI string `json:"verification_uri"`
			}
			_ = json.Unmarshal(raw, &p)
			fmt.Printf("go to %s and enter code: %s\n", p.VerificationURI, p.UserCode)
		}
	}

	rawResult, err := c.call("add_account", params)
	if err != nil {
		return err
	}
	var acc accountWire
	if err := json.Unmarshal(rawResult, &acc); err != nil {
		return err
	}
	fmt.Printf("added %s/%s\n", acc.Service, acc.ID)
	return nil
}

// readSecret reads a static secret from the terminal without echoing it,
// the one interactive prompt sigilforgectl has beyond its flags.
func readSecret() (string, error) {
	fmt.Print("secret: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(bytes), nil
}
