package main

import (
	"log"

	"github.com/victornm/trivia/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatalf("trivia: %v", err)
	}
}
