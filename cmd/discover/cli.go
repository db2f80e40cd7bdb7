package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"discover-engine/internal/config"
	"discover-engine/internal/domain"
	"discover-engine/internal/engagement"
	"discover-engine/internal/filter"
	"discover-engine/internal/markers"
	"discover-engine/internal/remote"
	"discover-engine/internal/session"
	"discover-engine/internal/wire"
)

// settleTimeout bounds the wait for a swipe to be confirmed or fail.
const settleTimeout = 15 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "discover",
		Usage:   "Swipe through candidates from a discoverd service",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "endpoint", Value: "http://localhost:8080", EnvVars: []string{"DISCOVER_ENDPOINT"}, Usage: "discoverd base URL"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, EnvVars: []string{"DISCOVER_USER"}, Usage: "Signed-in user ID"},
			&cli.StringFlag{Name: "home", Value: defaultHome(), EnvVars: []string{"DISCOVER_HOME"}, Usage: "Directory for local markers"},
			&cli.BoolFlag{Name: "verbose", EnvVars: []string{"DISCOVER_VERBOSE"}, Usage: "Log engine activity to stderr"},
		},
		Commands: []*cli.Command{
			filtersCmd(),
			feedCmd(),
			swipeCmd(),
			likesCmd(),
			loginCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// filterFlags are shared by every command that builds a filter state.
func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "min-age", Usage: "Minimum age"},
		&cli.IntFlag{Name: "max-age", Usage: "Maximum age"},
		&cli.IntFlag{Name: "distance", Usage: "Maximum distance in km"},
		&cli.StringSliceFlag{Name: "intent", Usage: "dating, friendship, networking (repeatable)"},
		&cli.StringSliceFlag{Name: "gender", Usage: "male, female (repeatable)"},
		&cli.BoolFlag{Name: "creators", Usage: "Creators only"},
		&cli.BoolFlag{Name: "verified", Usage: "Verified profiles only"},
	}
}

// rawFilters starts from the defaults and overlays the flags that were set.
func rawFilters(c *cli.Context) filter.Raw {
	raw := filter.DefaultRaw()
	if c.IsSet("min-age") {
		raw.MinAge = c.Int("min-age")
	}
	if c.IsSet("max-age") {
		raw.MaxAge = c.Int("max-age")
	}
	if c.IsSet("distance") {
		raw.Distance = c.Int("distance")
	}
	if c.IsSet("intent") {
		raw.InterestedIn = c.StringSlice("intent")
	}
	if c.IsSet("gender") {
		raw.InterestedInGender = c.StringSlice("gender")
	}
	raw.ShowCreatorsOnly = c.Bool("creators")
	raw.ShowVerifiedOnly = c.Bool("verified")
	return raw
}

// filtersCmd normalizes filter flags without contacting the service.
func filtersCmd() *cli.Command {
	return &cli.Command{
		Name:  "filters",
		Usage: "Normalize filters and show the resulting query",
		Flags: filterFlags(),
		Action: func(c *cli.Context) error {
			state := filter.Normalize(rawFilters(c))
			return outputJSON(c.App.Writer, map[string]any{
				"filters":     state,
				"activeCount": filter.ActiveCount(state),
				"fragment":    filter.ToQueryFragment(state),
			})
		},
	}
}

// feedCmd prints the first pages of the deck.
func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Load candidate pages",
		Flags: append(filterFlags(),
			&cli.IntFlag{Name: "pages", Value: 1, Usage: "Number of pages to load"},
		),
		Action: func(c *cli.Context) error {
			ctx := c.Context
			s, err := openSession(c, sessionParams{})
			if err != nil {
				return outputError(err)
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil {
				return outputError(err)
			}
			for i := 1; i < c.Int("pages") && s.HasMore(); i++ {
				if _, err := s.LoadMore(ctx); err != nil {
					return outputError(err)
				}
			}

			deck := s.Candidates()
			out := make([]wire.Candidate, len(deck))
			for i, cand := range deck {
				out[i] = wire.CandidateFromDomain(cand)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"candidates": out,
				"hasMore":    s.HasMore(),
			})
		},
	}
}

// swipeCmd swipes the front of the deck.
func swipeCmd() *cli.Command {
	return &cli.Command{
		Name:  "swipe",
		Usage: "Swipe the next candidates",
		Flags: append(filterFlags(),
			&cli.StringFlag{Name: "decision", Aliases: []string{"d"}, Value: string(domain.DecisionLike), Usage: "like, pass or superlike"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "Number of candidates to swipe"},
			&cli.BoolFlag{Name: "undo-last", Usage: "Undo the last swipe afterwards"},
		),
		Action: func(c *cli.Context) error {
			decision := domain.Decision(c.String("decision"))
			if !decision.IsValid() {
				return outputError(fmt.Errorf("invalid decision %q", decision))
			}

			ctx := c.Context
			var failures errorList
			s, err := openSession(c, sessionParams{onError: failures.add})
			if err != nil {
				return outputError(err)
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil {
				return outputError(err)
			}

			var records []domain.SwipeRecord
			for i := 0; i < c.Int("count"); i++ {
				deck := s.Candidates()
				if len(deck) == 0 {
					break
				}
				rec, err := s.Swipe(ctx, deck[0].ID, decision)
				if err != nil {
					return outputError(err)
				}
				settled, err := waitSettled(ctx, s, rec.ID)
				if err != nil {
					return outputError(err)
				}
				records = append(records, settled)
			}

			if c.Bool("undo-last") && len(records) > 0 {
				rec, err := s.Undo(ctx)
				if err != nil {
					return outputError(err)
				}
				records[len(records)-1] = rec
			}

			// Drain the undo compensator and side effects before reporting
			if err := s.Close(); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"swipes": records,
				"errors": failures.list(),
			})
		},
	}
}

// likesCmd watches the live engagement counter.
func likesCmd() *cli.Command {
	return &cli.Command{
		Name:  "likes",
		Usage: "Watch the received likes counter",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Usage: "Stop after this long (default: until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("duration"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			ws, err := remote.NewWSClient(ctx, wsEndpoint(c.String("endpoint")), &remote.WSClientConfig{
				ReconnectDelay:    time.Second,
				MaxReconnectDelay: 30 * time.Second,
				PingInterval:      30 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      10 * time.Second,
				RequestTimeout:    10 * time.Second,
				UserID:            c.String("user"),
				Logger:            cliLogger(c, "[ws] "),
			})
			if err != nil {
				return outputError(err)
			}
			defer ws.Close()

			w := c.App.Writer
			var mu sync.Mutex
			last := -1
			s, err := openSession(c, sessionParams{
				subscriber: ws,
				onCounter: func(st domain.CounterState) {
					mu.Lock()
					defer mu.Unlock()
					if st.Count != last {
						last = st.Count
						fmt.Fprintf(w, "%s likes: %d\n", time.UnixMilli(st.SyncedAt).Format(time.TimeOnly), st.Count)
					}
				},
			})
			if err != nil {
				return outputError(err)
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return outputError(err)
			}
			<-ctx.Done()
			return nil
		},
	}
}

// loginCmd fires the daily-login side effect at most once per day.
func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Record today's login (once per calendar day)",
		Action: func(c *cli.Context) error {
			user, err := requireUser(c)
			if err != nil {
				return outputError(err)
			}

			store, err := markers.OpenSQLite(c.String("home"))
			if err != nil {
				return outputError(err)
			}
			defer store.Close()

			logger := cliLogger(c, "[engagement] ")
			dispatcher := engagement.NewDispatcher(engagement.DispatcherOptions{
				Recorder: httpClient(c, user),
				Logger:   logger,
			})
			tracker := engagement.NewDailyLoginTracker(engagement.TrackerOptions{
				Store:    store,
				Notifier: dispatcher,
				Logger:   logger,
			})

			fired, err := tracker.Track(c.Context, user)
			dispatcher.Close()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"user": user, "fired": fired})
		},
	}
}

// sessionParams carries the per-command session hooks.
type sessionParams struct {
	subscriber remote.EngagementSubscriber
	onError    func(error)
	onCounter  func(domain.CounterState)
}

// cliSession is a session plus the marker store it owns.
type cliSession struct {
	*session.Session
	store *markers.SQLiteStore
	once  sync.Once
}

// Close closes the session, then the marker store. Safe to call twice.
func (s *cliSession) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Session.Close()
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// errorList collects errors reported from engine goroutines.
type errorList struct {
	mu   sync.Mutex
	errs []string
}

func (l *errorList) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err.Error())
}

func (l *errorList) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errs...)
}

// openSession builds a session against the configured endpoint. Markers
// persist under --home so daily login fires once per day across runs.
func openSession(c *cli.Context, p sessionParams) (*cliSession, error) {
	user, err := requireUser(c)
	if err != nil {
		return nil, err
	}

	cfg, err := config.FromEnv(config.Default())
	if err != nil {
		return nil, err
	}

	store, err := markers.OpenSQLite(c.String("home"))
	if err != nil {
		return nil, err
	}

	state := filter.Normalize(rawFilters(c))
	s, err := session.New(session.Options{
		Config:          cfg,
		Remote:          httpClient(c, user),
		Subscriber:      p.subscriber,
		Resolver:        remote.StaticUser(user),
		Markers:         store,
		Filters:         &state,
		OnError:         p.onError,
		OnCounterChange: p.onCounter,
		Logger:          cliLogger(c, "[session] "),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &cliSession{Session: s, store: store}, nil
}

func requireUser(c *cli.Context) (string, error) {
	user := c.String("user")
	if user == "" {
		return "", errors.New("--user (or DISCOVER_USER) is required")
	}
	return user, nil
}

func httpClient(c *cli.Context, user string) *remote.HTTPClient {
	return remote.NewHTTPClient(strings.TrimSuffix(c.String("endpoint"), "/")+"/rpc", remote.WithUser(user))
}

// wsEndpoint maps http(s)://host to ws(s)://host/ws.
func wsEndpoint(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + "/ws"
}

// waitSettled polls until the swipe is no longer pending.
func waitSettled(ctx context.Context, s *cliSession, id string) (domain.SwipeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if rec, ok := s.Record(id); ok && rec.Status != domain.StatusPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return domain.SwipeRecord{}, fmt.Errorf("swipe %s not settled: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func cliLogger(c *cli.Context, prefix string) *log.Logger {
	if c.Bool("verbose") {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".discover"
	}
	return filepath.Join(home, ".discover")
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the CLI, surfacing RPC error codes.
func outputError(err error) error {
	var rpcErr *wire.Error
	if errors.As(err, &rpcErr) {
		return cli.Exit(fmt.Sprintf("[%d] %s", rpcErr.Code, rpcErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
