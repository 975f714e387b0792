package main

import (
	"log"

	"daotreasury/services/treasuryd"
)

func main() {
	if err := treasuryd.Main(); err != nil {
		log.Fatalf("treasuryd: %v", err)
	}
}
