package main

import (
	"fmt"
)

func main() {
	printWelcome()
	Execute()
}

func printWelcome() {
	fmt.Println("\033[33m")
	fmt.Println("  ______    _              _____ _           _       ")
	fmt.Println(" |  ____|  | |            / ____| |         (_)      ")
	fmt.Println(" | |__   __| | __ _  ___ | |    | |__   __ _ _ _ __  ")
	fmt.Println(" |  __| / _` |/ _` |/ _ \\| |    | '_ \\ / _` | | '_ \\ ")
	fmt.Println(" | |___| (_| | (_| |  __/| |____| | | | (_| | | | | |")
	fmt.Println(" |______\\__,_|\\__, |\\___(_)_____|_| |_|\\__,_|_|_| |_|")
	fmt.Println("               __/ |                                 ")
	fmt.Println("              |___/                                  ")
	fmt.Println("\033[0m")
	fmt.Println("\033[36m   edgenode — permissioned DPoS for edge devices\033[0m")
}
