// fleet-agentd is the per-host agent daemon. The fleetd control plane
// dials it over WebSocket, hands it tasks, and collects its output.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/fleetd/internal/conn"
	"github.com/soyeahso/fleetd/internal/logging"
	"github.com/soyeahso/fleetd/internal/version"
)

type daemon struct {
	name    string
	workDir string
	log     *logging.Logger

	upgrader websocket.Upgrader

	mu         sync.Mutex
	lastOutput string
	cancelTask context.CancelFunc
}

// socketWriter serializes frame writes; task completions race with
// collect replies otherwise.
type socketWriter struct {
	mu     sync.Mutex
	socket *websocket.Conn
}

func (w *socketWriter) write(f conn.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.socket.WriteJSON(f)
}

func main() {
	var (
		name     = flag.String("name", "", "agent name to answer handshakes with")
		listen   = flag.String("listen", ":9001", "listen address")
		workDir  = flag.String("work-dir", ".", "directory tasks run in")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logging.New(nil, *logLevel)
	if *name == "" {
		log.Fatal().Msg("--name is required")
	}

	d := &daemon{
		name:    *name,
		workDir: *workDir,
		log:     log.Sub("agentd"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", d.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	d.log.Info().Str("name", *name).Str("listen", *listen).Str("version", version.Version).Msg("agent daemon starting")
	if err := http.ListenAndServe(*listen, mux); err != nil {
		d.log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func (d *daemon) handleWS(w http.ResponseWriter, r *http.Request) {
	socket, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer socket.Close()

	socket.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hello conn.Frame
	if err := socket.ReadJSON(&hello); err != nil {
		d.log.Warn().Err(err).Msg("handshake read failed")
		return
	}
	if hello.Type != conn.FrameTypeHello || hello.Agent != d.name {
		d.log.Warn().Str("type", hello.Type).Str("agent", hello.Agent).Msg("rejecting handshake")
		return
	}
	socket.SetReadDeadline(time.Time{})

	sw := &socketWriter{socket: socket}
	ack := conn.Frame{Type: conn.FrameTypeHelloOK, Agent: d.name, Version: version.Version}
	if err := sw.write(ack); err != nil {
		return
	}

	d.log.Info().Str("remote", r.RemoteAddr).Msg("controller connected")
	d.readLoop(sw, socket)
	d.log.Info().Str("remote", r.RemoteAddr).Msg("controller disconnected")
}

func (d *daemon) readLoop(sw *socketWriter, socket *websocket.Conn) {
	for {
		var f conn.Frame
		if err := socket.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case conn.FrameTypeTask:
			d.startTask(sw, f)
		case conn.FrameTypeCollect:
			d.mu.Lock()
			out := d.lastOutput
			d.mu.Unlock()
			if err := sw.write(conn.Frame{Type: conn.FrameTypeReport, Output: out}); err != nil {
				return
			}
		default:
			d.log.Debug().Str("type", f.Type).Msg("ignoring unknown frame")
		}
	}
}

// startTask launches the task asynchronously. An urgent task cancels
// whatever is currently running; the superseded run never reports done
// for the old task because its context is dead before the write.
func (d *daemon) startTask(sw *socketWriter, f conn.Frame) {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if f.Urgent && d.cancelTask != nil {
		d.cancelTask()
	}
	d.cancelTask = cancel
	d.mu.Unlock()

	d.log.Info().Str("task", f.TaskID).Bool("urgent", f.Urgent).Msg("task accepted")

	go func() {
		defer cancel()
		output := d.run(ctx, f.Payload)

		d.mu.Lock()
		d.lastOutput = output
		d.mu.Unlock()

		if ctx.Err() != nil {
			d.log.Info().Str("task", f.TaskID).Msg("task superseded, completion suppressed")
			return
		}
		if err := sw.write(conn.Frame{Type: conn.FrameTypeDone, TaskID: f.TaskID, Output: output}); err != nil {
			d.log.Warn().Str("task", f.TaskID).Err(err).Msg("completion write failed")
		}
	}()
}

// run executes the task payload as a shell command in the work directory.
func (d *daemon) run(ctx context.Context, payload string) string {
	cmd := exec.CommandContext(ctx, "sh", "-c", payload)
	cmd.Dir = d.workDir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out) + "\nerror: " + err.Error()
	}
	return string(out)
}
