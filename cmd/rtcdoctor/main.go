package main

import "rtcdoctor/internal/cli"

func main() {
	cli.Execute()
}
