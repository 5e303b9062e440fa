package main

import (
	"log"
	_ "time/tzdata"

	"github.com/tiffinledger/tiffin/internal/tiffincli"
)

func main() {
	if err := tiffincli.Execute(); err != nil {
		log.Fatal(err)
	}
}
