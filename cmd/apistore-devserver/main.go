package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AtRiskMedia/apistore-go/internal/application/startup"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
)

func main() {
	hash := flag.String("hash-password", "", "print a bcrypt hash for DEVSERVER_PASSWORD_HASH and exit")
	flag.Parse()

	if *hash != "" {
		out, err := security.HashPassword(*hash)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Fprintln(os.Stdout, out)
		return
	}

	if err := startup.InitializeDevServer(); err != nil {
		log.Fatalf("Development server failed: %v", err)
	}

	log.Println("Development server has shut down gracefully.")
}
