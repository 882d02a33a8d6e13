// Package cli implements the eidmw command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/internal/config"
	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/eid"
	"github.com/gregLibert/eid-middleware/pkg/session"
	"github.com/gregLibert/eid-middleware/pkg/transport"
	"github.com/gregLibert/eid-middleware/pkg/transport/virtual"
)

// VirtualReader is the reader name used by the virtual driver.
const VirtualReader = "Virtual eID Reader 00"

type app struct {
	configFile string
	driver     string
	reader     string
	verbose    bool

	cfg *config.Config
	log *logrus.Entry
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "eidmw",
		Short: "Talk to eID cards through PC/SC readers",
		Long: `Talk to eID cards through PC/SC readers.

If no config file is specified, eidmw looks for config.yaml in:
  - the current directory
  - /etc/eidmw
  - ~/.config/eidmw

Every setting can be overridden with an EIDMW_ variable, e.g.
EIDMW_READER_NAME or EIDMW_LOGGING_LEVEL.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.preRun,
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to the configuration file (optional)")
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "Reader driver: pcsc or virtual")
	root.PersistentFlags().StringVarP(&a.reader, "reader", "r", "", "Reader to use")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.readersCommand(),
		a.statusCommand(),
		a.watchCommand(),
		a.readCommand(),
		a.dumpCommand(),
		a.statCommand(),
		a.challengeCommand(),
		a.verifyPINCommand(),
		a.changePINCommand(),
		a.pinStatusCommand(),
		a.apduCommand(),
		a.exploreCommand(),
	)
	return root
}

// Execute runs the command line.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		logrus.Fatalf("Failed to execute command: %v", err)
	}
}

func (a *app) preRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if a.driver != "" {
		cfg.Driver = a.driver
	}
	if a.reader != "" {
		cfg.Reader.Name = a.reader
	}
	if a.verbose {
		cfg.Logging.Level = logrus.DebugLevel.String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := cfg.SetupLogging()
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) openSource() (transport.ReaderSource, func(), error) {
	switch a.cfg.Driver {
	case config.DriverVirtual:
		hub := virtual.NewHub([]string{VirtualReader}, virtual.WithLogger(a.log))
		if err := hub.Insert(VirtualReader, eid.NewDemoCard()); err != nil {
			return nil, nil, err
		}
		return hub, func() {}, nil

	default:
		p, err := transport.NewPCSC(
			transport.WithLogger(a.log),
			transport.WithPollInterval(a.cfg.Reader.PollInterval),
		)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				a.log.WithError(err).Warn("Failed to release PC/SC context")
			}
		}, nil
	}
}

// withCore starts a core following reader events for the duration of fn.
func (a *app) withCore(cmd *cobra.Command, fn func(ctx context.Context, core *eid.Core, transitions <-chan session.Transition) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	source, closeSource, err := a.openSource()
	if err != nil {
		return err
	}
	defer closeSource()

	core := eid.NewCore(source,
		eid.WithLogger(a.log),
		eid.WithReader(a.cfg.Reader.Name),
		eid.WithReadChunk(a.cfg.APDU.ReadChunk),
		eid.WithMaxExchanges(a.cfg.APDU.MaxExchanges),
		eid.WithFileCacheTTL(a.cfg.Cache.FileTTL),
	)
	transitions, unsubscribe := core.Subscribe()
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- core.Run(runCtx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			a.log.WithError(err).Warn("Reader monitoring stopped")
		}
	}()

	return fn(ctx, core, transitions)
}

// withCard waits for a card and runs fn under the APDU timeout.
func (a *app) withCard(cmd *cobra.Command, fn func(ctx context.Context, card *eid.Card) error) error {
	return a.withCore(cmd, func(ctx context.Context, core *eid.Core, transitions <-chan session.Transition) error {
		if err := awaitCard(ctx, core, transitions, a.cfg.Reader.PollInterval+time.Second); err != nil {
			return err
		}

		card, err := core.Card()
		if err != nil {
			return err
		}

		opCtx, cancel := context.WithTimeout(ctx, a.cfg.APDU.Timeout)
		defer cancel()
		return fn(opCtx, card)
	})
}

func awaitCard(ctx context.Context, core *eid.Core, transitions <-chan session.Transition, wait time.Duration) error {
	if core.Manager().CurrentSessionID() != 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case tr, ok := <-transitions:
			if !ok {
				return carderr.New("wait for card", carderr.NoCardPresent)
			}
			if tr.Kind == session.Activated {
				return nil
			}
		case <-timer.C:
			if core.Manager().CurrentSessionID() != 0 {
				return nil
			}
			return carderr.New("wait for card", carderr.NoCardPresent)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func describeError(w io.Writer, err error) {
	var cerr *carderr.Error
	if errors.As(err, &cerr) && cerr.Kind == carderr.SecurityConditionNotSatisfied && cerr.Retries >= 0 {
		fmt.Fprintf(w, "PIN rejected, %d tries left\n", cerr.Retries)
	}
}
