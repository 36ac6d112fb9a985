package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-redis/redis/v8"
	"golang.org/x/term"

	"github.com/newtron-network/newtdeploy/pkg/inventory"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/orchestrator"
	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/rollback"
	"github.com/newtron-network/newtdeploy/pkg/settings"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the configured rollback store. The returned closer releases
// its connection.
func openStore(ctx context.Context) (rollback.Store, io.Closer, error) {
	s := app.settings
	switch app.backend {
	case "", settings.BackendFile:
		fs, err := rollback.NewFileStore(s.GetRollbackDir())
		if err != nil {
			return nil, nil, err
		}
		return fs, nopCloser{}, nil
	case settings.BackendRedis:
		rs, err := rollback.NewRedisStore(ctx, s.GetRedisAddr(), s.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs, nil
	case settings.BackendSQLite:
		ss, err := rollback.OpenSQLiteStore(ctx, s.GetSQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return ss, ss, nil
	}
	return nil, nil, util.NewMalformedInputError("rollback-backend",
		fmt.Sprintf("unknown backend %q (want file, redis or sqlite)", app.backend))
}

// openManager wraps the configured store in a rollback manager.
func openManager(ctx context.Context) (*rollback.Manager, io.Closer, error) {
	store, closer, err := openStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening rollback store: %w", err)
	}
	return rollback.NewManager(store), closer, nil
}

// redisClient connects to the configured Redis for progress publishing.
func redisClient(ctx context.Context) (*redis.Client, error) {
	addr := app.settings.GetRedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: app.settings.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return client, nil
}

// loadInventory reads the inventory and prompts for a shared password when
// askPass is set or some device has no secret.
func loadInventory(askPass bool) (*inventory.File, error) {
	if app.inventoryPath == "" {
		return nil, fmt.Errorf("inventory required: use -i <file> or 'newtdeploy settings set inventory <file>'")
	}
	inv, err := inventory.Load(app.inventoryPath)
	if err != nil {
		return nil, err
	}
	if askPass || inv.NeedsPassword() {
		pw, err := readPassword("Device password: ")
		if err != nil {
			return nil, err
		}
		inv.SetPassword(pw)
	}
	return inv, nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password required but stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}

// newExecutor builds an SSH-backed executor using the settings' prompt and
// timing overrides.
func newExecutor(dir push.Directory) (*push.Executor, error) {
	dialer := push.NewSSHDialer()
	if p := app.settings.Prompt; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, util.NewMalformedInputError("prompt", err.Error())
		}
		dialer.Prompt = re
	}

	ex := push.NewExecutor(dialer, dir)
	cmd, commit, recv := app.settings.Delays()
	if cmd > 0 {
		ex.Timing.CommandDelay = cmd
	}
	if commit > 0 {
		ex.Timing.CommitDelay = commit
	}
	if recv > 0 {
		ex.Timing.ReceiveTimeout = recv
	}
	return ex, nil
}

// loadConfigs reads the current and desired configuration files.
func loadConfigs(currentPath, desiredPath string) (*model.ConfigSet, *model.ConfigSet, error) {
	current, err := model.LoadConfigSet(currentPath)
	if err != nil {
		return nil, nil, err
	}
	desired, err := model.LoadConfigSet(desiredPath)
	if err != nil {
		return nil, nil, err
	}
	return current, desired, nil
}

// strategyFlag resolves --strategy against the settings default.
func strategyFlag(flag string) (model.Strategy, error) {
	if flag == "" {
		flag = app.settings.Strategy
	}
	st, ok := model.ParseStrategy(flag)
	if !ok {
		return "", util.NewMalformedInputError("strategy", fmt.Sprintf("unknown strategy %q", flag))
	}
	return st, nil
}

// planOnly builds an orchestrator that can diff and plan but not push. Its
// rollbacks go to memory so previews leave no state behind.
func planOnly() *orchestrator.Orchestrator {
	return orchestrator.New(nil, nil)
}
