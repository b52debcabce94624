// Command searchctl is the operator CLI for the search service: run a query
// through the full admission and ranking path, claim anonymous history for a
// user, inspect configuration and manage the schema.
package main

import (
	"log"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
