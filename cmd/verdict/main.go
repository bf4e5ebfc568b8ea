// Command verdict runs registered coding agents against a workspace and
// optionally judges the result.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env from the working directory when present; ambient
	// environment wins over file values.
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	os.Exit(run(os.Args[1:]))
}
