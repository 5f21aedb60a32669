package main

import "github.com/andresmejia3/attendant/cmd"

func main() {
	cmd.Execute()
}
