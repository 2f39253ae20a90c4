/*
main.go - Development token minting

PURPOSE:
  Prints a signed bearer token for a caller, using the same secret and
  issuer the server loads. Identity lives outside roombook; this tool
  stands in for the identity provider during development.

EXAMPLES:
  ROOMBOOK_JWT_SECRET=dev ./token -sub admin-1 -role admin
  ROOMBOOK_JWT_SECRET=dev ./token -sub u-1 -email ann@acme.test -company Acme -ttl 1h
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/warp/roombook/auth"
	"github.com/warp/roombook/config"
	"github.com/warp/roombook/core"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", ".env file")
	sub := flag.String("sub", "", "caller id (required)")
	role := flag.String("role", "user", "admin or user")
	email := flag.String("email", "", "caller email")
	company := flag.String("company", "", "company label")
	ttl := flag.Duration("ttl", 0, "token lifetime (default from config)")
	flag.Parse()

	if err := run(*configPath, *envFile, *sub, *role, *email, *company, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, sub, role, email, company string, ttl time.Duration) error {
	if sub == "" {
		return fmt.Errorf("-sub is required")
	}
	if role != string(core.RoleAdmin) && role != string(core.RoleUser) {
		return fmt.Errorf("-role must be admin or user, got %q", role)
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	a := auth.New(cfg.Auth.Secret, cfg.Auth.Issuer, ttl)
	token, exp, err := a.Issue(core.Caller{
		ID:      core.UserID(sub),
		Role:    core.Role(role),
		Email:   email,
		Company: company,
	})
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
