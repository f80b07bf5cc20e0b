/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// escrowctl is the operator CLI for the escrow mediator. Every subcommand maps
// to one facade operation so the bot flow can be driven by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"p2p-escrow-mediator/internal/common"
	"p2p-escrow-mediator/internal/config"

	"go.uber.org/zap"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"create":           {"-buyer ID", runCreate},
	"join":             {"-escrow ID -user ID", runJoin},
	"asset":            {"-escrow ID -asset BTC|LTC|ETH|USDT", runAsset},
	"amount":           {"-escrow ID -amount GROSS", runAmount},
	"wallet":           {"-user ID -asset SYMBOL -address ADDR", runWallet},
	"wallets":          {"-user ID", runWallets},
	"confirm":          {"-escrow ID -actor ID", runConfirm},
	"dispute":          {"-escrow ID -actor ID", runDispute},
	"withdraw-dispute": {"-escrow ID -actor ID", runWithdrawDispute},
	"resolve":          {"-escrow ID -admin ID", runResolve},
	"cancel":           {"-escrow ID -actor ID", runCancel},
	"override":         {"-escrow ID -admin ID -action release|cancel", runOverride},
	"force-resolve":    {"-escrow ID -admin ID", runForceResolve},
	"status":           {"-escrow ID", runStatus},
	"list":             {"-user ID | -status STATUS", runList},
	"link":             {"-escrow ID", runLink},
	"reconcile":        {"-escrow ID", runReconcile},
	"poll":             {"", runPoll},
	"setting":          {"-key KEY [-value VALUE]", runSetting},
	"settings":         {"", runSettings},
	"watch":            {"", runWatch},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: escrowctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-17s %s\n", name, commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	env := &environment{cfg: cfg, services: services}
	if err := cmd.run(ctx, env, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "escrowctl %s: %v\n", os.Args[1], err)
		services.Close()
		loggerCleanup()
		os.Exit(1)
	}
}
