/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adpilot-io/adpilot"
	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/notification"
)

// Adpilot represents the CLI application, encapsulating the root Cobra command.
type Adpilot struct {
	cmd *cobra.Command // Root command for the CLI application
}

// adpilotInstance holds the Adpilot instance and its configuration.
// This is used to store the runtime instance and configuration globally within the application.
type adpilotInstance struct {
	adpilot *adpilot.Adpilot      // Adpilot object initialized from configuration
	cnf     *config.Configuration // Configuration object holding runtime settings
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec) // Log the recovered panic
		os.Exit(1)        // Exit the program with an error status
	}
}

// preRun sets up the configuration and initializes the Adpilot instance before running any command.
// It ensures that the configuration is loaded, and the Adpilot instance is initialized properly.
func preRun(app *adpilotInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Initialize configuration from the specified configuration file.
		err := config.InitConfig("adpilot.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		// Fetch the configuration settings.
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// Initialize the Adpilot instance using the fetched configuration.
		newAdpilot, err := setupAdpilot(cnf)
		if err != nil {
			notification.NotifyError(err) // Notify via the internal notification system
			log.Fatal(err)                // Log the fatal error
		}

		// Assign the new Adpilot instance and configuration to the app struct.
		app.adpilot = newAdpilot
		app.cnf = cnf

		return nil
	}
}

// setupAdpilot creates and initializes a new Adpilot instance based on the provided configuration.
// It connects to the data source (such as a database) using the configuration settings.
func setupAdpilot(cfg *config.Configuration) (*adpilot.Adpilot, error) {
	// Initialize a new data source from the configuration.
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return &adpilot.Adpilot{}, fmt.Errorf("error getting datasource: %v", err)
	}

	// Create a new Adpilot instance using the initialized data source.
	newAdpilot, err := adpilot.NewAdpilot(db)
	if err != nil {
		return &adpilot.Adpilot{}, fmt.Errorf("error creating adpilot: %v", err)
	}
	return newAdpilot, nil
}

// NewCLI creates the command-line interface (CLI) for the Adpilot application.
// It sets up the root command and subcommands like serverCommands, workerCommands, and migrateCommands.
func NewCLI() *Adpilot {
	var configFile string     // Configuration file path (defaults to ./adpilot.json)
	b := &adpilotInstance{} // Instance of Adpilot to be passed into commands

	// Define the root command with usage and description.
	var rootCmd = &cobra.Command{
		Use:   "adpilot",
		Short: "Autonomous ad spend optimizer",             // Brief description for the CLI tool
		Run:   func(cmd *cobra.Command, args []string) {}, // Main function for the root command
	}

	// Add a persistent flag to the root command for specifying the config file.
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./adpilot.json", "Configuration file for adpilot")

	// Set the persistent pre-run hook to initialize the app and config before executing any command.
	rootCmd.PersistentPreRunE = preRun(b)

	// Add various subcommands to the root command.
	rootCmd.AddCommand(serverCommands(b))  // Command for starting the server
	rootCmd.AddCommand(workerCommands(b))  // Command for worker processes
	rootCmd.AddCommand(migrateCommands(b)) // Command for database/schema migrations
	rootCmd.AddCommand(backupCommands(b))  // Command for database backups
	rootCmd.AddCommand(configCommands())   // Command for printing the computed configuration

	return &Adpilot{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
// It serves as the main entry point for the CLI application.
func (w Adpilot) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print any errors that occur
		os.Exit(1)                   // Exit the program with an error status
	}
}

// main is the main function and the entry point for the application.
// It recovers from any panic, initializes the CLI, and executes it.
func main() {
	defer recoverPanic() // Ensure that any panic is handled gracefully

	cli := NewCLI()  // Create the CLI application
	cli.executeCLI() // Execute the CLI commands
}
