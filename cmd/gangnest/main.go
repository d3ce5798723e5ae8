// GangNest: gang-sheet nesting for DTF print rolls.
//
// Packs customer images onto fixed-width film and serves the engine, the
// algorithm tester and the run diagnostics over HTTP.
//
// Build:
//   go build -o gangnest ./cmd/gangnest
//
// Run the API:
//   gangnest serve --listen :8080
//
// Nest an order file:
//   gangnest nest order.csv --width 17 --pdf layout.pdf --labels labels.pdf

package main

import "github.com/piwi3910/GangNest/internal/cli"

func main() {
	cli.Execute()
}
