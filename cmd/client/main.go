// Command client is an interactive terminal client for the speech evaluator
// server. It streams mic audio while recording, plays the synthesized
// evaluation through ffplay, and keeps its displayed state consistent with
// playback: a server Idle that lands mid-clip is applied only after the clip
// finishes.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rservant/speech-evaluator-sub004/internal/client"
	"github.com/rservant/speech-evaluator-sub004/internal/protocol"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	serverURL := flag.String("server", envOr("SERVER_URL", "ws://localhost:8080/ws"), "server websocket URL")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("connect %s: %v", *serverURL, err)
	}
	defer conn.Close()

	app := &clientApp{
		conn:     conn,
		deferral: client.NewDeferral(),
		progress: &client.PlaybackProgress{},
	}

	go app.readLoop()
	app.commandLoop()
}

type clientApp struct {
	conn     *websocket.Conn
	sendMu   sync.Mutex
	deferral *client.Deferral
	progress *client.PlaybackProgress
	player   *client.PCMPlayer

	// clipToken identifies the clip currently playing; written and read only
	// on the read loop goroutine.
	clipToken uint64

	recording  atomic.Bool
	expectIdle atomic.Bool
	lastScript atomic.Value // string
}

func (a *clientApp) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal: %v", err)
		return
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("send: %v", err)
	}
}

func (a *clientApp) sendBinary(data []byte) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if err := a.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Printf("send audio: %v", err)
	}
}

func (a *clientApp) commandLoop() {
	fmt.Println("commands: start | stop | deliver | replay | panic | limit <seconds> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "start":
			if a.deferral.InCooldown() {
				fmt.Println("just went idle, give it a moment")
				continue
			}
			a.send(protocol.StartRecording{Type: protocol.TypeStartRecording})
			a.startMic()
		case "stop":
			a.recording.Store(false)
			a.send(protocol.StopRecording{Type: protocol.TypeStopRecording})
		case "deliver":
			a.send(protocol.DeliverEvaluation{Type: protocol.TypeDeliverEvaluation})
		case "replay":
			a.send(protocol.ReplayTTS{Type: protocol.TypeReplayTTS})
		case "panic":
			a.recording.Store(false)
			a.failSafe()
			a.send(protocol.PanicMute{Type: protocol.TypePanicMute})
		case "limit":
			if len(fields) != 2 {
				fmt.Println("usage: limit <seconds>")
				continue
			}
			secs, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: limit <seconds>")
				continue
			}
			a.send(protocol.SetTimeLimit{Type: protocol.TypeSetTimeLimit, Seconds: secs})
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// startMic streams mic PCM until the recording flag drops.
func (a *clientApp) startMic() {
	mic, err := client.NewMicCapture()
	if err != nil {
		log.Printf("mic unavailable, recording without audio: %v", err)
		return
	}
	a.recording.Store(true)
	go func() {
		defer mic.Close()
		buf := make([]byte, 3200) // 100ms at 16kHz
		for a.recording.Load() {
			n, err := mic.Read(buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				a.sendBinary(frame)
			}
			if err != nil {
				return
			}
		}
	}()
}

func (a *clientApp) readLoop() {
	for {
		mt, data, err := a.conn.ReadMessage()
		if err != nil {
			log.Printf("connection closed: %v", err)
			a.failSafe()
			os.Exit(0)
		}
		if mt == websocket.BinaryMessage {
			a.onAudio(data)
			continue
		}
		a.onFrame(data)
	}
}

func (a *clientApp) onAudio(data []byte) {
	if !a.deferral.Playing() {
		if a.player == nil {
			p, err := client.NewPCMPlayer()
			if err != nil {
				log.Printf("playback unavailable: %v", err)
				a.failSafe()
				return
			}
			a.player = p
		}
		a.clipToken = a.deferral.StartPlayback()
		a.progress.Start()
	}
	if a.player != nil {
		if err := a.player.Write(data); err != nil {
			log.Printf("playback failed: %v", err)
			a.failSafe()
			return
		}
	}
	a.progress.AddBytes(int64(len(data)))
}

func (a *clientApp) onFrame(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Printf("bad frame: %v", err)
		return
	}
	switch envelope.Type {
	case protocol.TypeSessionReady:
		var msg protocol.SessionReady
		if json.Unmarshal(data, &msg) == nil {
			fmt.Printf("connected, session %s (time limit %ds)\n", msg.SessionID, msg.TimeLimitSeconds)
		}
	case protocol.TypeStateChange:
		var msg protocol.StateChange
		if json.Unmarshal(data, &msg) == nil {
			a.deferral.OnServerState(client.UIState(msg.State))
			if msg.State == string(client.UIIdle) && a.expectIdle.CompareAndSwap(true, false) {
				// This Idle answers our own complete_delivery; no clip is
				// coming to convert the latch.
				a.deferral.ApplyLatchedIdle()
			}
			fmt.Printf("state: %s\n", a.deferral.UIState())
		}
	case protocol.TypeCaption:
		var msg protocol.Caption
		if json.Unmarshal(data, &msg) == nil {
			fmt.Printf("  %s\n", msg.Text)
		}
	case protocol.TypePipelineProgress:
		var msg protocol.PipelineProgress
		if json.Unmarshal(data, &msg) == nil {
			fmt.Printf("  [%s]\n", msg.Stage)
		}
	case protocol.TypeEvaluationReady:
		var msg protocol.EvaluationReady
		if json.Unmarshal(data, &msg) == nil {
			a.lastScript.Store(msg.Script)
			fmt.Printf("\nEvaluation: %s\n", msg.Evaluation.Summary)
			for _, s := range msg.Evaluation.Strengths {
				fmt.Printf("  + %s\n", s)
			}
			for _, s := range msg.Evaluation.Improvements {
				fmt.Printf("  - %s\n", s)
			}
			if !msg.HasAudio {
				fmt.Printf("\n%s\n", msg.Script)
			}
		}
	case protocol.TypeTTSComplete:
		a.onClipComplete()
	case protocol.TypeElapsed:
		var msg protocol.Elapsed
		if json.Unmarshal(data, &msg) == nil {
			fmt.Printf("\r  recording %ds ", msg.Seconds)
		}
	case protocol.TypeError:
		var msg protocol.ServerError
		if json.Unmarshal(data, &msg) == nil {
			fmt.Printf("error [%s]: %s\n", msg.Code, msg.Message)
		}
	}
}

// onClipComplete waits out the buffered tail, then finishes playback and
// acknowledges the delivery.
func (a *clientApp) onClipComplete() {
	if !a.deferral.Playing() {
		// Text-only delivery: nothing played, acknowledge right away.
		if a.deferral.UIState() == client.UIDelivering {
			a.expectIdle.Store(true)
			a.send(protocol.CompleteDelivery{Type: protocol.TypeCompleteDelivery})
		}
		return
	}
	token := a.clipToken
	wait := a.progress.RemainingEstimate() + 200*time.Millisecond
	go func() {
		time.Sleep(wait)
		wasDelivering := a.deferral.UIState() == client.UIDelivering
		a.deferral.FinishPlayback(token)
		a.progress.Finish()
		fmt.Printf("state: %s\n", a.deferral.UIState())
		if wasDelivering {
			a.expectIdle.Store(true)
			a.send(protocol.CompleteDelivery{Type: protocol.TypeCompleteDelivery})
		}
	}()
}

// failSafe is the common path for audio errors, disconnects, and the panic
// command: cut playback, invalidate pending idle bookkeeping, and fall back
// to the written evaluation.
func (a *clientApp) failSafe() {
	a.stopPlayback()
	a.surfaceScript()
}

func (a *clientApp) stopPlayback() {
	a.deferral.ForceStop()
	a.progress.Finish()
	if a.player != nil {
		if err := a.player.Reset(); err != nil {
			log.Printf("player reset: %v", err)
		}
	}
}

func (a *clientApp) surfaceScript() {
	if s, ok := a.lastScript.Load().(string); ok && s != "" {
		fmt.Printf("\n%s\n", s)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
