// Command vcbench runs AI coding agents against benchmark tasks.
package main

import "github.com/vibecodingbench/vcbench/internal/cli"

func main() {
	cli.Execute()
}
