// Command tokengen issues a signed bearer token for local testing, so a
// websocket client can be pointed at a dev gateway without standing up
// the real identity provider.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"market-chat/auth"
)

func main() {
	userID := flag.String("user", "", "User id to embed in the token")
	validity := flag.Duration("validity", 24*time.Hour, "Token validity")
	issuer := flag.String("issuer", "market-chat-dev", "Token issuer")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	token, err := auth.NewTokenService(secret, *issuer).Generate(*userID, *validity)
	if err != nil {
		log.Fatal("Error while signing token: ", err)
	}
	fmt.Println(token)
}
