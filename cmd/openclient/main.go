package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

// Flags shared by every command.
type globalFlags struct {
	contractFile string
	configFile   string
	envFile      string
	verbose      bool
	debug        bool
}

// Flags of the call command.
type callFlags struct {
	args       []string
	baseURL    string
	timeout    int
	token      string
	username   string
	password   string
	retries    int
	resilience bool
	fasthttp   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cf := &callFlags{}

	rootCmd := &cobra.Command{
		Use:   "openclient",
		Short: "OpenClient - declarative HTTP client",
		Long: `OpenClient - calls HTTP endpoints described in a YAML contract.

A contract lists the methods of a service: path template, HTTP method,
classified parameters, header templates and the declared return type.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	callCmd := &cobra.Command{
		Use:   "call <Service.Method>",
		Short: "Invoke a contract method",
		Long:  "Invoke a contract method and print the decoded result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, g, cf, args[0])
		},
	}

	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "List the methods of a contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd, g)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&g.contractFile, "contract", "", "Contract file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Client configuration file")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "Environment file expanded into arguments and the contract")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Print a call summary to stderr")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Debug logging")
	rootCmd.MarkPersistentFlagRequired("contract")

	// Call flags
	callCmd.Flags().StringArrayVarP(&cf.args, "arg", "a", nil, "Argument as name=value; @file reads the value from a file")
	callCmd.Flags().StringVar(&cf.baseURL, "base-url", "", "Override the base URL")
	callCmd.Flags().IntVarP(&cf.timeout, "timeout", "t", 30, "Request timeout in seconds")
	callCmd.Flags().StringVar(&cf.token, "token", "", "Bearer token")
	callCmd.Flags().StringVarP(&cf.username, "username", "u", "", "Username for basic authentication")
	callCmd.Flags().StringVarP(&cf.password, "password", "p", "", "Password for basic authentication")
	callCmd.Flags().IntVar(&cf.retries, "retries", 0, "Retries of transport failures")
	callCmd.Flags().BoolVar(&cf.resilience, "resilience", false, "Run the call behind a circuit breaker")
	callCmd.Flags().BoolVar(&cf.fasthttp, "fasthttp", false, "Use the fasthttp backend")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(describeCmd)

	return rootCmd
}
