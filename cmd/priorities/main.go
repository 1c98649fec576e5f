package main

import (
	"log"

	"github.com/rahul/priorities/internal/observability"
)

func main() {
	// Route all log output through the terminal mutex so warnings never
	// split a progress line.
	log.SetOutput(observability.NewTermWriter())
	Execute()
}
