package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/life-stream-dev/bizfolio/internal/auth"
	"github.com/life-stream-dev/bizfolio/internal/counter"
	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/event"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"github.com/life-stream-dev/bizfolio/internal/notification"
	"github.com/life-stream-dev/bizfolio/internal/subscription"
)

const watchHelp = `commands:
  login ID         sign in as ID
  logout           sign out
  unread           print the unread count
  read ID          mark one notification read
  readall          mark every unread notification read
  notify MESSAGE   add a notification for the signed-in user
  hit METRIC       count views|clicks|scans|conversations
  resubscribe KEY  re-open business|notifications|counters
  quit`

func newWatchCmd(a *app) *cobra.Command {
	var userID string
	var memory bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live state of a signed-in user, driven by stdin commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store, err := a.openStore(ctx, memory)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printer := &snapshotPrinter{out: out}
			manager := subscription.NewManager(store, printer)
			a.cleaner.Add("subscriptions", event.CallableFunc(manager.Close))

			provider := auth.NewChannelProvider(1)
			defer provider.Close()
			go func() {
				if err := manager.Run(ctx, provider); err != nil && !errors.Is(err, context.Canceled) {
					logger.ErrorF("Session loop stopped: %v", err)
				}
			}()

			if userID != "" {
				if err := provider.SignIn(ctx, userID); err != nil {
					return err
				}
			}

			session := &watchSession{
				out:        out,
				store:      store,
				provider:   provider,
				manager:    manager,
				reconciler: notification.NewReconciler(manager, store),
				counters:   counter.NewAccumulator(store),
			}
			_, _ = fmt.Fprintln(out, watchHelp)
			return session.loop(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "sign in as this user on start")
	cmd.Flags().BoolVar(&memory, "memory", false, "use the in-process store instead of MongoDB")
	return cmd
}

type watchSession struct {
	out        io.Writer
	store      database.Store
	provider   *auth.ChannelProvider
	manager    *subscription.Manager
	reconciler *notification.Reconciler
	counters   *counter.Accumulator
}

func (s *watchSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		command, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		if command == "quit" || command == "exit" {
			return nil
		}
		if err := s.handle(ctx, command, arg); err != nil {
			_, _ = color.New(color.FgRed).Fprintf(s.out, "%s: %v\n", command, err)
		}
	}
	return scanner.Err()
}

func (s *watchSession) userID() (string, error) {
	session := s.manager.Session()
	if session == nil {
		return "", subscription.ErrNoSession
	}
	return session.UserID, nil
}

func (s *watchSession) handle(ctx context.Context, command, arg string) error {
	switch command {
	case "login":
		if arg == "" {
			return errors.New("usage: login ID")
		}
		return s.provider.SignIn(ctx, arg)
	case "logout":
		return s.provider.SignOut(ctx)
	case "unread":
		unread, err := s.reconciler.Unread()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(s.out, "unread: %d\n", unread)
	case "read":
		if arg == "" {
			return errors.New("usage: read ID")
		}
		return s.reconciler.MarkRead(ctx, arg)
	case "readall":
		marked, err := s.reconciler.MarkAllRead(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(s.out, "marked %d read\n", marked)
	case "notify":
		owner, err := s.userID()
		if err != nil {
			return err
		}
		return s.store.Create(ctx, database.NotificationCollectionName, uuid.NewString(), bson.M{
			"owner_id":   owner,
			"message":    arg,
			"category":   "system",
			"created_at": time.Now().UTC(),
			"read":       false,
		})
	case "hit":
		owner, err := s.userID()
		if err != nil {
			return err
		}
		metric, err := counter.ParseMetric(arg)
		if err != nil {
			return err
		}
		// a lost creation race is not worth reporting
		if err := s.counters.Increment(ctx, owner, metric); err != nil && !errors.Is(err, counter.ErrRaceLoss) {
			return err
		}
	case "resubscribe":
		return s.manager.Resubscribe(ctx, subscription.Key(arg))
	case "help":
		_, _ = fmt.Fprintln(s.out, watchHelp)
	default:
		return errors.New("unknown command, try help")
	}
	return nil
}

// snapshotPrinter renders every delivered snapshot. Deliveries for different
// keys may arrive concurrently, so writes are serialized.
type snapshotPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

var (
	keyColor   = color.New(color.FgCyan, color.Bold)
	errorColor = color.New(color.FgRed)
	dimColor   = color.New(color.FgHiBlack)
)

func (p *snapshotPrinter) OnSnapshot(snap subscription.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = keyColor.Fprintf(p.out, "[%s #%d %s] ", snap.Key, snap.Sequence, snap.SessionID)
	if snap.Failed() {
		hint := "resubscribe to retry"
		if snap.PermissionDenied() {
			hint = "sign in again"
		}
		_, _ = errorColor.Fprintf(p.out, "subscription failed: %v (%s)\n", snap.Err, hint)
		return
	}

	switch snap.Key {
	case subscription.KeyBusiness:
		p.printBusiness(snap)
	case subscription.KeyNotifications:
		p.printNotifications(snap)
	case subscription.KeyCounters:
		p.printCounters(snap)
	}
}

func (p *snapshotPrinter) OnTeardown(key subscription.Key, id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = dimColor.Fprintf(p.out, "[%s] subscription %s closed\n", key, id)
}

func (p *snapshotPrinter) printBusiness(snap subscription.Snapshot) {
	doc, ok := snap.First()
	if !ok {
		_, _ = fmt.Fprintln(p.out, "no business profile")
		return
	}
	var profile struct {
		Name    string `bson:"name"`
		Address string `bson:"address"`
		Phone   string `bson:"phone"`
	}
	if err := doc.Decode(&profile); err != nil {
		_, _ = errorColor.Fprintf(p.out, "undecodable profile: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(p.out, "%s, %s, %s\n", profile.Name, profile.Address, profile.Phone)
}

func (p *snapshotPrinter) printNotifications(snap subscription.Snapshot) {
	notifications, err := notification.Decode(snap)
	if err != nil {
		_, _ = errorColor.Fprintln(p.out, err)
		return
	}
	_, _ = fmt.Fprintf(p.out, "%d notifications, %d unread\n", len(notifications), notification.UnreadCount(snap))
	for _, n := range notifications {
		marker := "*"
		if n.Read {
			marker = " "
		}
		_, _ = fmt.Fprintf(p.out, "  %s %s %s [%s] %s\n", marker, n.ID, n.CreatedAt.Format(time.DateTime), n.Category, n.Message)
	}
}

func (p *snapshotPrinter) printCounters(snap subscription.Snapshot) {
	record, ok, err := counter.Decode(snap)
	if err != nil {
		_, _ = errorColor.Fprintln(p.out, err)
		return
	}
	if !ok {
		_, _ = fmt.Fprintln(p.out, "no counters yet")
		return
	}
	today := record.Day(time.Now())
	for _, m := range counter.Metrics {
		_, _ = fmt.Fprintf(p.out, "%s=%d(+%d today) ", m, record.Get(m), today[m])
	}
	_, _ = fmt.Fprintln(p.out)
}
