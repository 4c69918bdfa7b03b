package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"voxchat/audio"
	"voxchat/beep"
	"voxchat/dispatch"
	"voxchat/doctor"
	"voxchat/hotkey"
	"voxchat/log"
	"voxchat/recorder"
	"voxchat/shutdown"
)

var version = "dev"

const (
	defaultServer  = "http://localhost:5000"
	hotkeyDebounce = 250 * time.Millisecond
)

var shutdownOnce sync.Once

func gracefulShutdown(c *chat) {
	shutdownOnce.Do(func() {
		if c != nil {
			c.close()
			log.SessionEnd(c.transcript.Len())
		}
		log.Close()
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func tokenSource(static, page string, client *dispatch.TracedClient) dispatch.TokenSource {
	switch {
	case static != "":
		return dispatch.StaticToken(static)
	case page != "":
		return &dispatch.PageToken{URL: page, Client: client}
	}
	return nil
}

func run() {
	serverFlag := flag.String("server", envOr("VOXCHAT_SERVER", defaultServer), "Chatbot backend base URL (env VOXCHAT_SERVER)")
	categoryFlag := flag.String("category", "", "Send text messages to the expert assistant /chatbot/<category>")
	csrfTokenFlag := flag.String("csrf-token", os.Getenv("VOXCHAT_CSRF_TOKEN"), "Anti-forgery token sent with every message (env VOXCHAT_CSRF_TOKEN)")
	csrfPageFlag := flag.String("csrf-page", "", "Page to read the anti-forgery token from (<meta name=\"csrf-token\">)")
	csrfHeaderFlag := flag.String("csrf-header", dispatch.DefaultTokenHeader, "Header carrying the anti-forgery token")
	timeoutFlag := flag.Duration("timeout", 60*time.Second, "Per-request timeout")
	langFlag := flag.String("lang", envOr("VOXCHAT_LANG", dispatch.DefaultLanguage), "Language of status notices: en, de or uk (env VOXCHAT_LANG)")
	formatFlag := flag.String("format", "auto", "Voice packaging: auto, flac, or webm (raw chunks as recorded)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	hotkeyFlag := flag.String("hotkey", hotkey.DefaultCombo, "Global record toggle, e.g. ctrl+shift+space (empty to disable)")
	beepFlag := flag.Bool("beep", true, "Play a cue when recording starts and stops")
	logPathFlag := flag.String("logpath", "", "log directory path (env VOXCHAT_LOG_PATH; default: OS-specific location, use ./ for current dir)")
	testFlag := flag.String("test", "", "Test mode: replay this recording as the microphone, read commands from stdin")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("voxchat %s\n", version)
		os.Exit(0)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	packager, err := recorder.PackagerByName(*formatFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	notices, err := dispatch.NoticesFor(*langFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !*beepFlag {
		beep.Disable()
	}

	var combo *hotkey.Combo
	if strings.TrimSpace(*hotkeyFlag) != "" {
		c, err := hotkey.ParseCombo(*hotkeyFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		combo = &c
	}

	client := dispatch.NewTracedClient(*timeoutFlag)
	dispCfg := dispatch.Config{
		Server:      *serverFlag,
		Category:    *categoryFlag,
		Timeout:     *timeoutFlag,
		TokenHeader: *csrfHeaderFlag,
		Tokens:      tokenSource(*csrfTokenFlag, *csrfPageFlag, client),
		Notices:     notices,
		Client:      client,
	}

	if *doctorFlag {
		os.Exit(doctor.Run(doctor.Options{
			Dispatch: dispCfg,
			Combo:    combo,
			Device:   *deviceFlag,
			Packager: packager,
		}))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.SessionStart(*serverFlag, *formatFlag)
	}

	if *testFlag != "" {
		os.Exit(runTestMode(*testFlag, packager, dispCfg))
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		selectedDevice, err = audio.FindDevice(actx, *deviceFlag)
		if err != nil || selectedDevice == nil {
			log.Warnf("device %q not found (%v), using default", *deviceFlag, err)
			fmt.Printf("Warning: device %q not found, using system default\n", *deviceFlag)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(actx)
		if err != nil {
			if !errors.Is(err, audio.ErrSelectionAborted) {
				log.Warnf("device selection failed: %v", err)
				fmt.Printf("Warning: device selection failed: %v\n", err)
			}
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	c, err := newChat(chatConfig{
		Audio:    actx,
		Device:   selectedDevice,
		Packager: packager,
		Dispatch: dispCfg,
		Sink:     tuiSink{},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if pt, ok := dispCfg.Tokens.(*dispatch.PageToken); ok {
		// Prime the token and session cookie before the first message.
		go func() {
			if _, err := pt.Token(context.Background()); err != nil {
				log.Warnf("csrf page: %v", err)
				tuiSend(NoticeMsg{Text: "could not read anti-forgery token"})
			}
		}()
	}
	go client.Warm(c.dispatcher.TextURL())

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	hotkeyLabel := ""
	if combo != nil {
		hotkeyLabel = strings.ToLower(combo.String())
	}

	model := newTUIModel(tuiActions{
		Send:     c.send,
		Toggle:   c.toggle,
		CopyLast: c.copyLast,
	}, c.dispatcher.TextURL(), hotkeyLabel)
	model.deviceLine = deviceLineText(selectedDevice)

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(model)
	tuiMu.Unlock()

	if combo != nil {
		// Notices from here block until the program runs.
		go startHotkey(ctx, *combo, c)
	}

	go func() {
		<-ctx.Done()
		tuiSend(NoticeMsg{Text: "shutting down"})
		tuiProgram.Quit()
	}()

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		gracefulShutdown(c)
		os.Exit(1)
	}
	gracefulShutdown(c)
}

// startHotkey toggles recording on every press of the global hotkey.
// Registration failures leave the in-app key binding working.
func startHotkey(ctx context.Context, combo hotkey.Combo, c *chat) {
	hk, err := hotkey.New(combo)
	if err == nil {
		err = hk.Register()
	}
	if err != nil {
		log.Warnf("hotkey register error: %v", err)
		c.sink.Notice("global hotkey unavailable: " + err.Error())
		return
	}
	log.Info("hotkey_registered: " + combo.String())
	go func() {
		defer hk.Unregister()
		for range hotkey.Toggles(ctx, hk, hotkeyDebounce) {
			c.toggle()
		}
	}()
}
