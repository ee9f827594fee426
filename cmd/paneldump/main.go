// paneldump connects a panel mirror to a running agent and prints the
// telemetry it would render. Useful for poking at an agent without a panel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ampdeck/agent/lib/panel"
	"github.com/ampdeck/agent/lib/proto"
)

func main() {
	url := flag.String("url", "ws://localhost:10100/session/socket", "agent panel socket URL")
	viz := flag.Bool("viz", false, "start the spectrum stream")
	flag.Parse()

	slogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := panel.NewMirror(slogger, *url, nil)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		started := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			st := m.State()
			if !st.Connected {
				fmt.Printf("-- %s\n", st.StatusText)
				continue
			}
			if *viz && !started {
				if err := m.Send(ctx, proto.NewCommand(proto.CmdStartViz)); err == nil {
					started = true
				}
			}
			fmt.Println(render(st))
		}
	}()

	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		slogger.Error("mirror stopped", "err", err)
		os.Exit(1)
	}
}

func render(st panel.State) string {
	var b strings.Builder

	if st.StatusText != "" {
		fmt.Fprintf(&b, "[%s] ", st.StatusText)
	}
	fmt.Fprintf(&b, "%s %s %6.1fs/%6.1fs vol=%d%%",
		playStateGlyph(st.Snapshot.PlayState),
		orDash(st.Snapshot.Title),
		st.Snapshot.CurrentTime, st.Snapshot.Duration, st.Snapshot.Volume)

	if st.Navigation.CollectionID != "" {
		fmt.Fprintf(&b, " list=%s (%d items)", st.Navigation.CollectionID, len(st.Playlist))
	}
	if len(st.Bars) > 0 {
		b.WriteString(" |")
		for _, v := range st.Bars {
			b.WriteByte(" .:-=+*#%@"[min(v/26, 9)])
		}
		b.WriteString("|")
	}
	return b.String()
}

func playStateGlyph(s proto.PlayState) string {
	switch s {
	case proto.PlayStatePlaying:
		return ">"
	case proto.PlayStatePaused:
		return "||"
	default:
		return "?"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
