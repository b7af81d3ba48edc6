// Command baseline captures a test database after initialization and
// restores the tables each test wrote at the next test boundary.
package main

import "github.com/mesh-intelligence/baseline/internal/cli"

func main() {
	cli.Execute()
}
