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
	"golang.org/x/sync/errgroup"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/session"
	"meetsync/internal/infrastructure/registryclient"
	"meetsync/internal/infrastructure/relay"
	webrtcinfra "meetsync/internal/infrastructure/webrtc"
	"meetsync/pkg/config"
	"meetsync/pkg/logger"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"config.yaml",
}

func main() {
	joinInfo := flag.String("join", os.Getenv("MEETSYNC_JOIN_INFO"), "encoded meetingInfo blob from the join URL")
	flag.Parse()

	cfg, _, err := config.LoadFirst(configPaths...)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("component", "peer")

	info, err := domain.DecodeJoinInfo(*joinInfo)
	if err != nil {
		log.Fatalw("cannot join meeting", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, info, os.Stdin, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("peer stopped with error", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, info domain.JoinInfo, console io.Reader, log *zap.SugaredLogger) error {
	self := info.Attendee.AttendeeID
	log = log.With("meeting_id", info.Meeting.MeetingID, "attendee_id", self)

	channel := relay.NewClient(cfg.Session.RelayURL, info.Attendee.JoinToken, self, log)
	if err := channel.Dial(ctx); err != nil {
		return err
	}
	defer channel.Close()

	registry := registryclient.New(cfg, log)
	engine := webrtcinfra.NewEngine(webrtcinfra.ConfigFrom(cfg), self, nil, log)

	s := session.NewMeetingSession(info, channel, engine, registry, &consoleObserver{log: log}, sessionConfig(cfg), log)
	engine.SetSink(s)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The session ending (leave or removal) stops everything else.
		defer cancel()
		return s.Run(gctx)
	})
	g.Go(func() error {
		err := channel.Run(gctx, s)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	go readConsole(s, console, log)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		HostPollInterval: cfg.Session.HostPollInterval,
		QualityInterval:  cfg.Session.QualityInterval,
		StateTTL:         cfg.Session.StateTTL,
		ReactionTTL:      cfg.Session.ReactionTTL,
		EventBuffer:      cfg.Session.EventBuffer,
		RemovalGrace:     cfg.Session.RemovalGrace,
		RegistryTimeout:  cfg.Session.RegistryTimeout,
	}
}

func readConsole(s *session.MeetingSession, in io.Reader, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "help" {
			fmt.Println(usage)
			continue
		}
		details := func() domain.MeetingDetails { return s.View().Details }
		if err := dispatch(s, details, line); err != nil {
			log.Warnw("console", "error", err)
		}
		select {
		case <-s.Done():
			return
		default:
		}
	}
}

// consoleObserver logs notifications and prints the roster whenever it
// changes.
type consoleObserver struct {
	log  *zap.SugaredLogger
	last string
}

func (o *consoleObserver) Notify(n domain.Notification) {
	o.log.Infow("notification", "kind", n.Kind, "message", n.Message)
}

func (o *consoleObserver) Render(view domain.SessionView) {
	summary := renderRoster(view)
	if summary == o.last {
		return
	}
	o.last = summary
	fmt.Println(summary)
}

func renderRoster(view domain.SessionView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "meeting %q host=%s attendees=%d/%d", view.Details.Title, view.HostID, len(view.Attendees), view.MaxAttendees)
	if view.Ended {
		b.WriteString(" (ended)")
	}
	for _, a := range view.Attendees {
		name := a.DisplayName
		if name == "" {
			name = a.ExternalID
		}
		var flags []string
		if a.IsSelf {
			flags = append(flags, "you")
		}
		if a.IsHost {
			flags = append(flags, "host")
		}
		if a.IsCollaborator {
			flags = append(flags, "collaborator")
		}
		if a.AudioMuted {
			flags = append(flags, "muted")
		}
		if !a.VideoOn {
			flags = append(flags, "no video")
		}
		if a.Pinned {
			flags = append(flags, "pinned")
		}
		fmt.Fprintf(&b, "\n  %s %s [%s] quality=%s", a.ID, name, strings.Join(flags, ","), a.Quality)
	}
	return b.String()
}
