package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Ea2601/pi5supernode/cmd"
)

const defaultConfigPath = "/etc/supernode/supernode.hcl"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", defaultConfigPath, "Configuration file")
		serveFlags.StringVar(configFile, "c", defaultConfigPath, "Configuration file (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := checkFlags.String("config", defaultConfigPath, "Configuration file")
		checkFlags.StringVar(configFile, "c", defaultConfigPath, "Configuration file (short)")
		checkFlags.Parse(os.Args[2:])

		if err := cmd.RunCheck(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration OK")

	case "seed":
		seedFlags := flag.NewFlagSet("seed", flag.ExitOnError)
		configFile := seedFlags.String("config", defaultConfigPath, "Configuration file")
		seedFlags.StringVar(configFile, "c", defaultConfigPath, "Configuration file (short)")
		seedFlags.Parse(os.Args[2:])

		if err := cmd.RunSeed(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Println(cmd.Version)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`supernode - traffic routing rule engine

Usage:
  supernode serve [-config FILE]   Start the rule engine daemon
  supernode check [-config FILE]   Validate the configuration file
  supernode seed  [-config FILE]   Seed the option catalog with defaults
  supernode version                Print the version
  supernode help                   Show this help`)
}
