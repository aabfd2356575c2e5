// Command sigilforgectl is a thin administrative client for sigilforged:
// every subcommand opens one connection, sends one JSON-RPC request, and
// prints the result. It carries no business logic of its own and is
// explicitly not the TUI the broker excludes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "list-accounts":
		err = cmdListAccounts(args)
	case "add-account":
		err = cmdAddAccount(args)
	case "get-token":
		err = cmdGetToken(args)
	case "remove-account":
		err = cmdRemoveAccount(args)
	case "resolve":
		err = cmdResolve(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "sigilforgectl: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sigilforgectl: "+err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sigilforgectl <command> [flags]

commands:
  status                                  daemon pid, uptime, account count
  list-accounts [-service NAME]           list registered accounts
  add-account -service S -account A       run an authorization flow and register the account
             [-flow pkce|device|static] [-scopes a,b] [-display-name N]
  get-token -service S -account A         print a fresh access token
  remove-account -service S -account A    remove an account and revoke its tokens
  resolve -ref auth://service/account/kind resolve one auth:// reference`)
}
