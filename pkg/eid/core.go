// Package eid is the entry point of the middleware: it ties the reader
// transport, the card session and the APDU engine together and exposes the
// objects stored on a Belgian eID card.
//
//	core := eid.NewCore(source)
//	go core.Run(ctx)
//
//	card, err := core.Card()
//	id, err := card.Identity(ctx)
//	if errors.Is(err, carderr.ErrCardChanged) {
//	    card, err = core.Card() // the card was swapped, start over
//	}
package eid

import (
	"context"
	"fmt"
	"time"

	"github.com/haiyiyun/cache"
	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
	"github.com/gregLibert/eid-middleware/pkg/session"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

const (
	// DefaultReadChunk is the Le of each READ BINARY.
	DefaultReadChunk = 0xF8

	defaultFileCacheTTL     = 10 * time.Minute
	fileCacheCleanup        = time.Minute
	fileCacheShards         = 8
	fileCacheMaxEntrySize   = 0
	fileCacheCompressValues = false
)

// State is the presence state shown to users.
type State int

const (
	NoReaders State = iota + 1
	NoCardPresent
	CardPresent
)

func (s State) String() string {
	switch s {
	case NoReaders:
		return "no readers"
	case NoCardPresent:
		return "no card present"
	case CardPresent:
		return "card present"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Core is the card communication core for one reader source.
type Core struct {
	source  transport.ReaderSource
	manager *session.Manager
	log     *logrus.Entry

	class        iso7816.Class
	chunk        int
	maxExchanges int

	files    cache.Cache
	filesTTL time.Duration

	sessionOpts []session.Option
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger of the core and its session manager.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithReader binds the core to one reader.
func WithReader(name string) Option {
	return func(c *Core) {
		if name != "" {
			c.sessionOpts = append(c.sessionOpts, session.WithReader(name))
		}
	}
}

// WithReadChunk sets the Le of each READ BINARY (1-256).
func WithReadChunk(n int) Option {
	return func(c *Core) {
		if n > 0 && n <= iso7816.MaxShortLe {
			c.chunk = n
		}
	}
}

// WithMaxExchanges bounds the exchanges of a single command, GET RESPONSE
// included.
func WithMaxExchanges(n int) Option {
	return func(c *Core) {
		c.maxExchanges = n
	}
}

// WithFileCacheTTL sets how long file contents are kept. Entries are keyed
// by session, so a new card never sees them.
func WithFileCacheTTL(d time.Duration) Option {
	return func(c *Core) {
		if d > 0 {
			c.filesTTL = d
		}
	}
}

// WithSessionOptions passes options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Core) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// NewCore creates a core over source. Call Run to start following reader
// events.
func NewCore(source transport.ReaderSource, opts ...Option) *Core {
	c := &Core{
		source:   source,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		class:    iso7816.BasicClass,
		chunk:    DefaultReadChunk,
		filesTTL: defaultFileCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.files = cache.NewMemoryCache(c.filesTTL, fileCacheCleanup, fileCacheMaxEntrySize, fileCacheShards, fileCacheCompressValues)

	sessionOpts := append([]session.Option{session.WithLogger(c.log)}, c.sessionOpts...)
	c.manager = session.NewManager(source, sessionOpts...)
	c.log = c.log.WithField("component", "eid")
	return c
}

// Manager returns the session manager of the core.
func (c *Core) Manager() *session.Manager {
	return c.manager
}

// Run follows reader events until ctx ends.
func (c *Core) Run(ctx context.Context) error {
	return c.manager.Run(ctx, c.source)
}

// Close ends the current session.
func (c *Core) Close() error {
	return c.manager.Close()
}

// CurrentSession returns the active session or a NoCardPresent error.
func (c *Core) CurrentSession() (*session.CardSession, error) {
	return c.manager.CurrentSession()
}

// Ref returns a reference to the active session.
func (c *Core) Ref() (session.HandleRef, error) {
	return c.manager.Ref()
}

// CheckStillValid fails with CardChanged once the session of ref has ended.
func (c *Core) CheckStillValid(ref session.HandleRef) error {
	return c.manager.CheckStillValid(ref)
}

// Subscribe registers a session observer.
func (c *Core) Subscribe() (<-chan session.Transition, func()) {
	return c.manager.Subscribe()
}

// Transceive sends cmd to the card of ref and returns the assembled answer.
// Status words denoting an error come back as a classified error together
// with the response.
func (c *Core) Transceive(ctx context.Context, ref session.HandleRef, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	client, _, err := c.client(ref)
	if err != nil {
		return nil, err
	}
	return client.Transceive(ctx, cmd)
}

func (c *Core) client(ref session.HandleRef) (*iso7816.Client, *session.Channel, error) {
	ch, err := c.manager.Channel(ref)
	if err != nil {
		return nil, nil, err
	}
	client := iso7816.NewClient(ch)
	client.MaxExchanges = c.maxExchanges
	return client, ch, nil
}

// Card returns the card of the active session.
func (c *Core) Card() (*Card, error) {
	ref, err := c.manager.Ref()
	if err != nil {
		return nil, err
	}
	return &Card{
		core: c,
		ref:  ref,
		log:  c.log.WithField("session_id", ref.SessionID),
	}, nil
}

// State reports whether readers exist and whether a card session is active.
func (c *Core) State(ctx context.Context) (State, error) {
	if c.manager.CurrentSessionID() != 0 {
		return CardPresent, nil
	}
	readers, err := c.source.ListReaders(ctx)
	if err != nil {
		return 0, carderr.Classify("list readers", err)
	}
	if len(readers) == 0 {
		return NoReaders, nil
	}
	return NoCardPresent, nil
}

func (c *Core) cachedFile(sessionID uint64, f FileID) ([]byte, bool) {
	var data []byte
	found, err := c.files.Get(fileKey(sessionID, f), &data)
	if err != nil {
		c.log.WithError(err).WithField("file", f.Name).Debug("File cache lookup failed")
		return nil, false
	}
	if !found || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (c *Core) storeFile(sessionID uint64, f FileID, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := c.files.Set(fileKey(sessionID, f), data, c.filesTTL); err != nil {
		c.log.WithError(err).WithField("file", f.Name).Debug("Failed to cache file")
	}
}

func fileKey(sessionID uint64, f FileID) string {
	return fmt.Sprintf("%d/%X", sessionID, f.Path)
}
