/*
Copyright 2024 Blnk Finance Authors.

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

	"github.com/blnkfinance/courier"
	"github.com/blnkfinance/courier/config"
	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Courier represents the CLI application, encapsulating the root Cobra command.
type Courier struct {
	cmd *cobra.Command
}

// courierInstance holds the runtime Courier and its configuration for the subcommands.
type courierInstance struct {
	courier *courier.Courier
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the Courier before any command runs.
func preRun(app *courierInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newCourier, err := setupCourier(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.courier = newCourier
		app.cnf = cnf

		return nil
	}
}

func setupCourier(cfg *config.Configuration) (*courier.Courier, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newCourier, err := courier.NewCourier(db)
	if err != nil {
		return nil, fmt.Errorf("error creating courier: %v", err)
	}
	return newCourier, nil
}

func NewCLI() *Courier {
	var configFile string
	c := &courierInstance{}

	var rootCmd = &cobra.Command{
		Use:   "courier",
		Short: "Transactional outbox, inbox and order saga orchestration",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./courier.json", "Configuration file for courier")
	rootCmd.PersistentPreRunE = preRun(c, &configFile)

	rootCmd.AddCommand(serverCommands(c))
	rootCmd.AddCommand(workerCommands(c))
	rootCmd.AddCommand(migrateCommands(c))
	rootCmd.AddCommand(configCommands())

	return &Courier{cmd: rootCmd}
}

func (w Courier) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
