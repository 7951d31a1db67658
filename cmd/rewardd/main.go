package main

import (
	"log"

	"capsupply/services/rewardd"
)

func main() {
	if err := rewardd.Main(); err != nil {
		log.Fatalf("rewardd: %v", err)
	}
}
