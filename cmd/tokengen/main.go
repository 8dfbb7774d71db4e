package main

import (
	"flag"
	"fmt"
	"time"

	"inventory-forecast/internal/auth"
	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/common"
	"inventory-forecast/internal/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	var (
		user = flag.String("user", "", "Username claim")
		role = flag.String("role", common.RoleAdmin, "Role claim")
		ttl  = flag.Duration("ttl", 24*time.Hour, "Token lifetime (0 never expires)")
	)
	flag.Parse()

	if err := logging.Setup("warn"); err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}
	if *user == "" {
		log.Fatal().Msg("-user is required")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	v, err := auth.NewValidator(c.SecretKey, c.JWTAlgorithm)
	if err != nil {
		log.Fatal().Err(err).Msg("token validator setup failed")
	}
	token, err := v.Issue(*user, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}
