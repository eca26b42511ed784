package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/dukerupert/revealparty/internal/audio"
	"github.com/dukerupert/revealparty/internal/heart"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/realtime"
	"github.com/dukerupert/revealparty/internal/reveal"
	"github.com/dukerupert/revealparty/internal/revealapi"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "watch CODE",
		Short: "Join a reveal and follow it live",
		Long: `Join a reveal and follow it live.

Commands while watching:
  r            start the reveal (host, or anyone when not synced)
  h            send a heart
  p PASSWORD   unlock a password-protected reveal
  c            check the status again
  q            quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, opts, args[0], password, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "reveal password, submitted when asked")
	return cmd
}

func watch(ctx context.Context, opts *rootOptions, code, password string, in io.Reader, w io.Writer) error {
	out := &syncWriter{w: w}
	logger := opts.logger.With("code", code)
	client := opts.client()
	clock := clockwork.NewRealClock()

	rc, err := opts.cfg.Reveal()
	if err != nil {
		return err
	}

	cache := audio.NewCache(client, logger)
	player := audio.NewPlayer(&bellSink{w: out}, cache, clock, logger)
	hearts := heart.NewBroadcaster(clock, logger, append(opts.cfg.HeartOptions(), heart.WithOnChange(heartPrinter(out)))...)

	ctrl, err := reveal.New(code, reveal.Options{
		API:    client,
		Dial:   dialer(client, logger),
		Player: player,
		Hearts: hearts,
		Clock:  clock,
		Config: rc,
		Logger: logger,
		OnCelebrate: func(c reveal.Celebrate) {
			fmt.Fprintln(out, celebration(c))
		},
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	go ctrl.Run(ctx)
	ctrl.CheckStatus()

	lines := readLines(in)
	r := &renderer{w: out}
	triedPassword := false
	preloaded := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-ctrl.Updates():
			r.render(s)
			if !preloaded && s.Step == reveal.StepReady {
				preloaded = true
				player.Preload(ctx, customAudioURLs(s.Preferences)...)
			}
			if s.Step == reveal.StepPassword && !s.Pending && password != "" && !triedPassword {
				triedPassword = true
				ctrl.SubmitPassword(password)
			}
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep following the reveal.
				lines = nil
				continue
			}
			if quit := dispatch(ctrl, out, line); quit {
				return nil
			}
		}
	}
}

// controls is the part of the controller the command line drives.
type controls interface {
	StartReveal()
	SendHeart() bool
	SubmitPassword(string)
	CheckStatus()
	State() reveal.State
}

func dispatch(c controls, w io.Writer, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(cmd) {
	case "":
	case "q", "quit":
		return true
	case "r", "reveal":
		if !c.State().CanStart() {
			fmt.Fprintln(w, "You can't start this reveal.")
			return false
		}
		c.StartReveal()
	case "h", "heart":
		c.SendHeart()
	case "p", "password":
		if arg == "" {
			fmt.Fprintln(w, "Usage: p PASSWORD")
			return false
		}
		c.SubmitPassword(strings.TrimSpace(arg))
	case "c", "check":
		c.CheckStatus()
	default:
		fmt.Fprintf(w, "Unknown command %q. Use r, h, p, c or q.\n", cmd)
	}
	return false
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// dialer adapts realtime.Dial to the controller. A failed dial must return a
// nil interface, not a nil *realtime.Channel.
func dialer(client *revealapi.Client, logger *slog.Logger) reveal.Dialer {
	return func(ctx context.Context, code string) (reveal.Channel, error) {
		ch, err := realtime.Dial(ctx, client.WebSocketURL(), code, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

func customAudioURLs(p model.Preferences) []string {
	var urls []string
	for _, kind := range []model.AudioKind{model.AudioCountdown, model.AudioCelebration} {
		if ref := p.CustomAudio[kind]; ref != nil && ref.URL != "" {
			urls = append(urls, ref.URL)
		}
	}
	return urls
}

func celebration(c reveal.Celebrate) string {
	msg := fmt.Sprintf("🎉 It's a %s! 🎉", strings.ToUpper(string(c.Gender)))
	if c.Replay {
		msg += " (revealed before you joined)"
	}
	return msg
}

// renderer prints a line whenever something visible changes.
type renderer struct {
	w    io.Writer
	last reveal.State
	seen bool
}

func (r *renderer) render(s reveal.State) {
	prev, seen := r.last, r.seen
	r.last, r.seen = s, true

	if seen && s.ViewerCount != prev.ViewerCount && s.Step == prev.Step {
		fmt.Fprintf(r.w, "👀 %d watching\n", s.ViewerCount)
	}
	if seen && s.Step == prev.Step && s.Remaining == prev.Remaining && s.Err == prev.Err {
		return
	}

	switch s.Step {
	case reveal.StepLoading:
		if !seen || prev.Step != reveal.StepLoading {
			fmt.Fprintln(r.w, "Loading reveal...")
		}
	case reveal.StepPassword:
		if s.Err != "" {
			fmt.Fprintln(r.w, s.Err)
		} else {
			fmt.Fprintln(r.w, "This reveal is password protected. Type: p PASSWORD")
		}
	case reveal.StepNotReady:
		fmt.Fprintln(r.w, "The gender hasn't been set yet. Type c to check again.")
	case reveal.StepReady:
		fmt.Fprintf(r.w, "Ready! %d watching.\n", s.ViewerCount)
		switch {
		case !s.Synced() || s.IsHost:
			fmt.Fprintln(r.w, "Type r to start the reveal.")
		default:
			fmt.Fprintln(r.w, "Waiting for the host to start the reveal...")
		}
	case reveal.StepCountdown:
		fmt.Fprintf(r.w, "%d...\n", s.Remaining)
	case reveal.StepOpening:
		fmt.Fprintln(r.w, "Opening...")
	case reveal.StepError:
		fmt.Fprintf(r.w, "Error: %s. Type c to try again.\n", s.Err)
	}
}

// heartPrinter prints a heart for each one spawned.
func heartPrinter(w io.Writer) func([]heart.Visual) {
	var mu sync.Mutex
	maxID := 0
	return func(active []heart.Visual) {
		mu.Lock()
		defer mu.Unlock()
		for _, v := range active {
			if v.ID > maxID {
				maxID = v.ID
				fmt.Fprintln(w, "❤")
			}
		}
	}
}

// bellSink stands in for a speaker: it rings the terminal bell.
type bellSink struct {
	w io.Writer
}

func (s *bellSink) Start(clip audio.Clip) {
	source := "default"
	if !clip.Default {
		source = "custom"
	}
	fmt.Fprintf(s.w, "\a♪ %s sound (%s)\n", clip.Category, source)
}

func (s *bellSink) Stop(audio.Category) {}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
