package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/adapters/wsclient"
	"github.com/dkeye/peercall/internal/client"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/e2ee"
	"github.com/dkeye/peercall/internal/media"
	"github.com/dkeye/peercall/internal/peer"
)

var (
	flagCamera      bool
	flagMic         bool
	flagScreenAfter time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join [room]",
	Short: "Join a room and connect to every member",
	Long: `Join a room and stay until interrupted or /quit.

While joined, stdin lines are sent as chat. Commands:
  /quit          leave the room
  /key <phrase>  set the frame encryption passphrase (empty turns it off)
  /screen        toggle a synthetic screen-share stream
  /peers         list connected peers`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			v.Set("room", args[0])
		}
		cfg, err := config.LoadClient(v)
		if err != nil {
			return err
		}
		if cfg.Room == "" {
			return fmt.Errorf("room is required")
		}
		return join(cmd.Context(), cfg)
	},
}

func init() {
	f := joinCmd.Flags()
	f.String("name", "", "display name")
	f.String("id", "", "member id (generated when empty)")
	f.String("key", "", "frame encryption passphrase")
	f.Bool("encryption", true, "enable the frame encryption codec")
	f.BoolVar(&flagCamera, "camera", false, "publish a synthetic camera stream")
	f.BoolVar(&flagMic, "mic", false, "publish a synthetic microphone stream")
	f.DurationVar(&flagScreenAfter, "screen-after", 0, "attach a synthetic screen share after this delay")
	for _, name := range []string{"name", "id", "key", "encryption"} {
		_ = v.BindPFlag(name, f.Lookup(name))
	}
}

func join(parent context.Context, cfg *config.ClientConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	endpoint, err := wsclient.Endpoint(cfg.Server, domain.RoomID(cfg.Room), cfg.Name, domain.MemberID(cfg.ID))
	if err != nil {
		return err
	}
	printInfo("Connecting to " + cfg.Server)
	sigc, err := wsclient.Dial(ctx, endpoint, wsclient.Options{PingPeriod: cfg.PingPeriod})
	if err != nil {
		return err
	}

	codec := e2ee.NewCodec()
	var apiCodec *e2ee.Codec
	if cfg.Encryption {
		apiCodec = codec
	}
	api, err := rtc.NewAPI(apiCodec)
	if err != nil {
		return err
	}
	factory := func(remote domain.MemberID, servers []domain.ICEServer) (peer.Connection, error) {
		return rtc.NewConnection(api, servers, remote)
	}

	cl := client.New(sigc, factory, client.Options{
		Room:  domain.RoomID(cfg.Room),
		Name:  cfg.Name,
		Caps:  client.Capabilities{Encryption: cfg.Encryption},
		Codec: codec,
		Session: peer.Config{
			NegotiationTimeout: cfg.NegotiationTimeout,
			DisconnectGrace:    cfg.DisconnectGrace,
			Debounce:           cfg.Debounce,
			MaxRetries:         cfg.MaxRetries,
			BackoffBase:        cfg.BackoffBase,
			BackoffMax:         cfg.BackoffMax,
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(cl.Events(), ctx.Done())
	}()

	if cfg.Key != "" {
		cl.SetEncryptionKey(cfg.Key)
	}

	sources := newSources(ctx)
	if flagCamera {
		sources.attach(cl, media.KindCamera)
	}
	if flagMic {
		sources.attach(cl, media.KindMicrophone)
	}
	if flagScreenAfter > 0 {
		t := time.AfterFunc(flagScreenAfter, func() { sources.attach(cl, media.KindScreenShare) })
		defer t.Stop()
	}

	go readCommands(os.Stdin, cl, sources)

	err = cl.Run(ctx)
	cancel()
	<-done
	if err != nil {
		return err
	}
	printSuccess("Left room " + cfg.Room)
	return nil
}

func readCommands(r io.Reader, cl *client.Client, sources *sources) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			if err := cl.HangUp(); err != nil {
				printError(err.Error())
			}
			return
		case line == "/key" || strings.HasPrefix(line, "/key "):
			cl.SetEncryptionKey(strings.TrimSpace(strings.TrimPrefix(line, "/key")))
		case line == "/screen":
			sources.toggle(cl, media.KindScreenShare)
		case line == "/peers":
			fmt.Println(peersTable(cl.Peers()))
		default:
			if err := cl.SendChat(line); err != nil {
				printError(err.Error())
			}
		}
	}
	if err := sc.Err(); err != nil {
		log.Debug().Err(err).Msg("stdin closed")
	}
}
