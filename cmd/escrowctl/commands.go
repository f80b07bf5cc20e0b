package main

import (
	"context"
	"flag"
	"fmt"

	"p2p-escrow-mediator/internal/api"
	"p2p-escrow-mediator/internal/common"
	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/fees"
	"p2p-escrow-mediator/internal/models"
)

type environment struct {
	cfg      *models.Config
	services *common.Services
}

// parse builds a flag set for one subcommand and checks that every name in
// required was given a non-empty value.
func parse(name string, args []string, setup func(fs *flag.FlagSet), required ...string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	setup(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, r := range required {
		f := fs.Lookup(r)
		if f == nil || f.Value.String() == "" {
			return fmt.Errorf("-%s is required", r)
		}
	}
	return nil
}

func runCreate(ctx context.Context, env *environment, args []string) error {
	var buyer string
	if err := parse("create", args, func(fs *flag.FlagSet) {
		fs.StringVar(&buyer, "buyer", "", "Buyer identity")
	}, "buyer"); err != nil {
		return err
	}

	id, err := env.services.Escrow.CreateEscrow(ctx, buyer)
	if err != nil {
		return err
	}
	fmt.Printf("Created escrow %s\n", id)
	if link, err := env.services.Escrow.JoinLink(id); err == nil {
		fmt.Printf("Seller join link: %s\n", link)
	}
	return nil
}

func runJoin(ctx context.Context, env *environment, args []string) error {
	var escrowId, user string
	if err := parse("join", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id or /start join_<id> payload")
		fs.StringVar(&user, "user", "", "Joining seller identity")
	}, "escrow", "user"); err != nil {
		return err
	}
	if id, err := api.ParseJoinPayload(escrowId); err == nil {
		escrowId = id
	}

	e, err := env.services.Escrow.BindSeller(ctx, escrowId, user)
	if escrow.IsBenign(err) {
		fmt.Printf("Escrow %s already has a seller\n", escrowId)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Seller %s joined escrow %s (%s)\n", e.SellerId, e.Id, e.Status)
	return nil
}

func runAsset(ctx context.Context, env *environment, args []string) error {
	var escrowId, symbol string
	if err := parse("asset", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
		fs.StringVar(&symbol, "asset", "", "Asset symbol")
	}, "escrow", "asset"); err != nil {
		return err
	}
	asset, err := models.ParseAsset(symbol)
	if err != nil {
		return err
	}

	e, err := env.services.Escrow.SetAsset(ctx, escrowId, asset)
	if err != nil {
		return err
	}
	fmt.Printf("Escrow %s will settle in %s (%s)\n", e.Id, e.Asset, e.Status)
	return nil
}

func runAmount(ctx context.Context, env *environment, args []string) error {
	var escrowId, raw string
	if err := parse("amount", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
		fs.StringVar(&raw, "amount", "", "Gross amount the buyer deposits")
	}, "escrow", "amount"); err != nil {
		return err
	}
	gross, err := fees.ParseAmount(raw)
	if err != nil {
		return err
	}

	quote, err := env.services.Escrow.LockAmount(ctx, escrowId, gross)
	if err != nil {
		return err
	}
	e, err := env.services.Escrow.GetStatus(ctx, escrowId)
	if err != nil {
		return err
	}
	fmt.Printf("Gross: %s\n", common.FormatAmount(quote.Gross, e.Asset))
	fmt.Printf("Fee:   %s\n", common.FormatAmount(quote.Fee, e.Asset))
	fmt.Printf("Net:   %s\n", common.FormatAmount(quote.Net, e.Asset))

	address, ok, err := env.services.Store.GetDepositAddress(ctx, e.SellerId, e.Asset)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Buyer deposits to: %s\n", address)
	} else {
		fmt.Printf("Seller %s has no %s wallet registered yet\n", e.SellerId, e.Asset)
	}
	return nil
}

func runWallet(ctx context.Context, env *environment, args []string) error {
	var user, symbol, address string
	if err := parse("wallet", args, func(fs *flag.FlagSet) {
		fs.StringVar(&user, "user", "", "Wallet owner")
		fs.StringVar(&symbol, "asset", "", "Asset symbol")
		fs.StringVar(&address, "address", "", "Receiving address")
	}, "user", "asset", "address"); err != nil {
		return err
	}
	asset, err := models.ParseAsset(symbol)
	if err != nil {
		return err
	}

	w, err := env.services.Escrow.RegisterWallet(ctx, user, asset, address)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s wallet %s for %s\n", w.Asset, w.Address, w.UserId)
	return nil
}

func runConfirm(ctx context.Context, env *environment, args []string) error {
	escrowId, actor, err := escrowAndActor("confirm", "actor", args)
	if err != nil {
		return err
	}

	res, err := env.services.Escrow.RecordConfirmation(ctx, escrowId, actor)
	if err != nil {
		return err
	}
	switch {
	case res.Released:
		fmt.Printf("Escrow %s released to seller\n", escrowId)
	case res.AlreadyConfirmed:
		fmt.Printf("%s already confirmed escrow %s\n", actor, escrowId)
	default:
		fmt.Printf("Confirmation recorded, waiting for the other party\n")
	}
	return nil
}

func runDispute(ctx context.Context, env *environment, args []string) error {
	escrowId, actor, err := escrowAndActor("dispute", "actor", args)
	if err != nil {
		return err
	}
	e, err := env.services.Escrow.OpenDispute(ctx, escrowId, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Escrow %s is %s, an admin will review it\n", e.Id, e.Status)
	return nil
}

func runWithdrawDispute(ctx context.Context, env *environment, args []string) error {
	escrowId, actor, err := escrowAndActor("withdraw-dispute", "actor", args)
	if err != nil {
		return err
	}
	e, err := env.services.Escrow.WithdrawDispute(ctx, escrowId, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Dispute withdrawn, escrow %s is %s\n", e.Id, e.Status)
	return nil
}

func runResolve(ctx context.Context, env *environment, args []string) error {
	escrowId, admin, err := escrowAndActor("resolve", "admin", args)
	if err != nil {
		return err
	}
	e, err := env.services.Escrow.ResolveDispute(ctx, escrowId, admin)
	if err != nil {
		return err
	}
	fmt.Printf("Dispute resolved, escrow %s is %s\n", e.Id, e.Status)
	return nil
}

func runCancel(ctx context.Context, env *environment, args []string) error {
	escrowId, actor, err := escrowAndActor("cancel", "actor", args)
	if err != nil {
		return err
	}
	e, err := env.services.Escrow.Cancel(ctx, escrowId, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Escrow %s cancelled\n", e.Id)
	if e.Funded {
		fmt.Printf("Deposit of %s is to be refunded to buyer %s\n", common.FormatAmount(e.Amount, e.Asset), e.BuyerId)
	}
	return nil
}

func runOverride(ctx context.Context, env *environment, args []string) error {
	var escrowId, admin, action string
	if err := parse("override", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
		fs.StringVar(&admin, "admin", "", "Admin identity")
		fs.StringVar(&action, "action", "", "release or cancel")
	}, "escrow", "admin", "action"); err != nil {
		return err
	}

	e, err := env.services.Escrow.AdminOverride(ctx, escrowId, admin, models.OverrideAction(action))
	if err != nil {
		return err
	}
	fmt.Printf("Override applied, escrow %s is %s\n", e.Id, e.Status)
	return nil
}

func runForceResolve(ctx context.Context, env *environment, args []string) error {
	escrowId, admin, err := escrowAndActor("force-resolve", "admin", args)
	if err != nil {
		return err
	}
	if err := env.services.Escrow.ForceResolve(ctx, escrowId, admin); err != nil {
		return err
	}
	fmt.Printf("Escrow %s deleted\n", escrowId)
	return nil
}

func runLink(_ context.Context, env *environment, args []string) error {
	var escrowId string
	if err := parse("link", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
	}, "escrow"); err != nil {
		return err
	}
	link, err := env.services.Escrow.JoinLink(escrowId)
	if err != nil {
		return err
	}
	fmt.Println(link)
	return nil
}

func runReconcile(ctx context.Context, env *environment, args []string) error {
	var escrowId string
	if err := parse("reconcile", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
	}, "escrow"); err != nil {
		return err
	}

	funded, err := env.services.Escrow.Reconcile(ctx, escrowId)
	if err != nil {
		return err
	}
	if funded {
		fmt.Printf("Escrow %s is now funded\n", escrowId)
	} else {
		fmt.Printf("No qualifying deposit for escrow %s yet\n", escrowId)
	}
	return nil
}

func escrowAndActor(name, actorFlag string, args []string) (string, string, error) {
	var escrowId, actor string
	err := parse(name, args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
		fs.StringVar(&actor, actorFlag, "", "Acting identity")
	}, "escrow", actorFlag)
	return escrowId, actor, err
}
