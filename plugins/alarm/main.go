// Package main provides an alarm plugin that plays a sound or speaks a
// warning when a drowsiness alert is raised.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type config struct {
	Sound   string `json:"sound"`
	Message string `json:"message"`
	Repeat  int    `json:"repeat"`
}

type alertParams struct {
	ClosedFrames int `json:"closed_frames"`
}

type actionHandler func(cfg config, params alertParams) error

var actionHandlers = map[string]actionHandler{
	"beep":      beep,
	"speak":     speak,
	"volume-up": volumeUp,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	cfg := config{Repeat: 1}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}
	if cfg.Repeat < 1 {
		cfg.Repeat = 1
	}

	var params alertParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &params)
	}

	if err := handler(cfg, params); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// beep plays the configured sound file, or a system default.
func beep(cfg config, _ alertParams) error {
	sound := cfg.Sound
	for i := 0; i < cfg.Repeat; i++ {
		var err error
		switch runtime.GOOS {
		case "darwin":
			if sound == "" {
				sound = "/System/Library/Sounds/Sosumi.aiff"
			}
			err = run("afplay", sound)
		case "linux":
			if sound == "" {
				sound = "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga"
			}
			err = firstAvailable([][]string{
				{"paplay", sound},
				{"aplay", "-q", sound},
			})
		default:
			err = fmt.Errorf("unsupported platform: %s", runtime.GOOS)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// speak reads the warning message aloud.
func speak(cfg config, params alertParams) error {
	msg := cfg.Message
	if msg == "" {
		msg = "Wake up. Your eyes have been closed too long."
		if params.ClosedFrames > 0 {
			msg = fmt.Sprintf("Wake up. Eyes closed for %d frames.", params.ClosedFrames)
		}
	}

	switch runtime.GOOS {
	case "darwin":
		return run("say", msg)
	case "linux":
		return firstAvailable([][]string{
			{"spd-say", "--wait", msg},
			{"espeak", msg},
		})
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// volumeUp raises the output volume so the alarm is heard.
func volumeUp(_ config, _ alertParams) error {
	switch runtime.GOOS {
	case "darwin":
		return run("osascript", "-e", `set volume output volume ((output volume of (get volume settings)) + 20)`)
	case "linux":
		return run("pactl", "set-sink-volume", "@DEFAULT_SINK@", "+20%")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// firstAvailable runs the first command whose binary is on PATH.
func firstAvailable(commands [][]string) error {
	for _, c := range commands {
		if _, err := exec.LookPath(c[0]); err == nil {
			return run(c[0], c[1:]...)
		}
	}
	return errors.New("no audio player found")
}
