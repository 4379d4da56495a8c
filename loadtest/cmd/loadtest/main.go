// Package main is the entry point for the chat service load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: connection saturation test
//   - chat:     full conversation lifecycle load test
//
// Both scenarios mint their own JWTs, so the -secret flag must match the
// server's CHAT_JWT_SECRET. The chat scenario additionally requires its user
// IDs to exist in the users table.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test — opens N idle authenticated connections")
	fmt.Println("  chat        Conversation load test — pairs of users exchange messages and measure round-trip latency")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
