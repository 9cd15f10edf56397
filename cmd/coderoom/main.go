package main

import "github.com/lmikhailov/coderoom/internal/cli"

func main() {
	cli.Execute()
}
