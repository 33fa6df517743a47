package main

import (
	"log"

	"github.com/Rutvik2302/secure-auth/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
