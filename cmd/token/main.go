// Command token mints an admin bearer token for the vault API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lodge-codevault/internal/config"
	"lodge-codevault/internal/infra/api"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	subject := flag.String("sub", "admin", "token subject (who the token is for)")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	// dev=true: only the secret is needed here, a missing file or database url is fine
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatalf("auth.jwt_secret (or %s) is not set", config.EnvJWTSecret)
	}

	tok, exp, err := api.NewAdminAuth(cfg.Auth.JWTSecret, *ttl).Mint(*subject)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.UTC().Format(time.RFC3339))
	fmt.Println(tok)
}
