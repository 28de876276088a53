package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/nhle/mail-agent/internal/action"
	"github.com/nhle/mail-agent/internal/agent"
	"github.com/nhle/mail-agent/internal/classify"
	"github.com/nhle/mail-agent/internal/credential"
	"github.com/nhle/mail-agent/internal/logger"
	"github.com/nhle/mail-agent/internal/mail"
	"github.com/nhle/mail-agent/internal/model"
	"github.com/nhle/mail-agent/internal/rules"
	"github.com/nhle/mail-agent/internal/store"
)

var version = "0.3.0"

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	setCredential := flag.String("set-credential", "",
		"read a secret from stdin, store it in the system keyring under the given key, and exit")
	deleteCredential := flag.String("delete-credential", "",
		"remove the given key from the system keyring and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("mail-agent " + version)
		return
	}

	if *setCredential != "" || *deleteCredential != "" {
		if *setCredential != "" {
			fmt.Fprintf(os.Stderr, "value for %q: ", *setCredential)
		}
		err := runCredentialCommand(
			*setCredential, *deleteCredential, os.Stdin,
			credential.Set, credential.Delete,
		)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting mail-agent",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("provider", cfg.AI.Provider),
	)

	if err := run(cfg, log); err != nil {
		log.Error("agent exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// runCredentialCommand handles the keyring management flags. The
// keyring operations are injected so the command logic is testable
// without a system keyring.
func runCredentialCommand(
	setKey, deleteKey string,
	in io.Reader,
	set func(key, value string) error,
	del func(key string) error,
) error {
	switch {
	case setKey != "":
		value, err := readSecret(in)
		if err != nil {
			return fmt.Errorf("reading value for %q: %w", setKey, err)
		}
		return set(setKey, value)
	case deleteKey != "":
		return del(deleteKey)
	}
	return nil
}

// readSecret reads a single line and strips the trailing newline. An
// empty value is rejected rather than stored.
func readSecret(in io.Reader) (string, error) {
	value, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return "", errors.New("empty value")
	}
	return value, nil
}

func run(cfg *model.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Agent.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	client := mail.NewClient(cfg.Mail)
	if err := client.Verify(ctx); err != nil {
		return fmt.Errorf("verifying mailbox connection: %w", err)
	}
	log.Info("mailbox connection verified",
		zap.String("host", cfg.Mail.IMAPHost),
		zap.String("username", cfg.Mail.Username),
	)

	classifier, err := classify.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}

	engine := rules.New(cfg.Rules, cfg.Agent.ExclusiveRules)
	log.Info("rule engine ready",
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("exclusive", cfg.Agent.ExclusiveRules),
	)

	templates, err := action.NewTemplateRegistry(cfg.Templates)
	if err != nil {
		return fmt.Errorf("loading reply templates: %w", err)
	}

	notifier := action.NewNotifier(cfg.Notify.Webhooks, log)
	dispatcher := action.NewDispatcher(client, notifier, templates, st, log)

	ag := agent.New(cfg.Agent, client, classifier, engine, dispatcher, st, log)
	return ag.Run(ctx)
}
