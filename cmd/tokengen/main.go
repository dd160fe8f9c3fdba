// Command tokengen prints an admin bearer token for the catalog routes,
// signed with JWT_SECRET.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/iliyamo/ticket-pool/internal/config"
	"github.com/iliyamo/ticket-pool/internal/middleware"
	"github.com/iliyamo/ticket-pool/internal/utils"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		log.WithError(err).Fatal("load .env")
	}
	subject := flag.StringP("subject", "s", "ops", "token subject")
	ttl := flag.Int("ttl", 0, "lifetime in minutes (default ACCESS_TOKEN_TTL_MIN or 60)")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	minutes := *ttl
	if minutes == 0 {
		minutes = 60
		if cfg, err := config.Load(); err == nil {
			minutes = cfg.AccessTTLMin
		}
	}

	tok, err := utils.NewAccessToken(secret, *subject, middleware.RoleAdmin, minutes)
	if err != nil {
		log.WithError(err).Fatal("sign token")
	}
	fmt.Println(tok.Token)
	log.WithField("expires", tok.Exp).Info("admin token issued")
}
