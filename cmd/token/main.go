// Command token prints a signed access token for local testing of the import API.
//
//	go run ./cmd/token -sub <user-id> -school <school-id> -role school_admin
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JonMunkholm/skooler/internal/auth"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	sub := flag.String("sub", "", "actor id (user UUID)")
	school := flag.String("school", "", "school UUID")
	role := flag.String("role", "school_admin", "role claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *sub == "" || *school == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET, -sub and -school are required")
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.NewJWTService(secret, os.Getenv("JWT_ISSUER")).GenerateAccessToken(*sub, *school, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
