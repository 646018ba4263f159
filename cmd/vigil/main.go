package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/motion"
	"vigil/internal/pipeline"
	"vigil/internal/recording"
	"vigil/internal/stream"
	"vigil/internal/telegram"
	"vigil/internal/ws"
)

// envString returns the environment value for key, or the flag default
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func main() {
	var (
		deviceF      = flag.String("device", envString("VIGIL_DEVICE", "/dev/video0"), "Capture device path, rtsp:// or http:// URL")
		fpsF         = flag.Int("fps", envInt("VIGIL_FPS", 10), "Capture frame rate")
		widthF       = flag.Int("width", envInt("VIGIL_WIDTH", 640), "Capture width (v4l2 devices)")
		heightF      = flag.Int("height", envInt("VIGIL_HEIGHT", 480), "Capture height (v4l2 devices)")
		methodF      = flag.String("method", envString("VIGIL_METHOD", "background_subtraction"), "Detection method (frame_diff or background_subtraction)")
		sensitivityF = flag.Float64("sensitivity", envFloat("VIGIL_SENSITIVITY", 0.5), "Detection sensitivity [0,1]")
		minAreaF     = flag.Int("min-area", envInt("VIGIL_MIN_AREA", 500), "Minimum motion region area in pixels")
		preSecondsF  = flag.Int("pre-seconds", envInt("VIGIL_PRE_SECONDS", 2), "Seconds of pre-roll kept before a trigger")
		postSecondsF = flag.Int("post-seconds", envInt("VIGIL_POST_SECONDS", 5), "Seconds recorded after a trigger")
		immediateF   = flag.Bool("immediate", false, "Save pre-roll immediately on trigger instead of recording a post-roll window")
		outputDirF   = flag.String("output-dir", envString("VIGIL_OUTPUT_DIR", "./clips"), "Directory for saved clips")
		dbPathF      = flag.String("db", envString("VIGIL_DB", "./vigil.db"), "SQLite database path")
		classifierF  = flag.String("classifier", envString("VIGIL_CLASSIFIER_URL", ""), "Object classification service URL (empty disables)")
		tgTokenF     = flag.String("telegram-token", envString("VIGIL_TELEGRAM_TOKEN", ""), "Telegram bot token (empty disables alerts)")
		tgChatF      = flag.String("telegram-chat", envString("VIGIL_TELEGRAM_CHAT", ""), "Telegram chat ID")
		tgCooldownF  = flag.Int("telegram-cooldown", envInt("VIGIL_TELEGRAM_COOLDOWN", 30), "Seconds between Telegram alerts")
		httpAddrF    = flag.String("http-addr", envString("VIGIL_HTTP_ADDR", ":8080"), "HTTP listen address for the live event stream")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[vigil] ", log.Ltime)

	detector, err := motion.New(motion.Config{
		Method:      motion.Method(*methodF),
		Sensitivity: *sensitivityF,
		MinArea:     *minAreaF,
	})
	if err != nil {
		logger.Fatalf("detector: %v", err)
	}

	ring, err := recording.NewRingBuffer(*preSecondsF * *fpsF)
	if err != nil {
		logger.Fatalf("ring buffer: %v", err)
	}

	writer, err := recording.NewFFmpegWriter(*outputDirF)
	if err != nil {
		logger.Fatalf("clip writer: %v", err)
	}

	recorder := recording.NewRecorder(ring, writer, *fpsF,
		time.Duration(*postSecondsF)*time.Second)

	db, err := database.New(*dbPathF)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()

	var classifier *detection.Classifier
	if *classifierF != "" {
		classifier = detection.NewClassifier(*classifierF)
	}

	source, err := pipeline.NewFFmpegSource(pipeline.SourceConfig{
		Device: *deviceF,
		FPS:    *fpsF,
		Width:  *widthF,
		Height: *heightF,
	})
	if err != nil {
		logger.Fatalf("frame source: %v", err)
	}

	mode := pipeline.SaveWindowed
	if *immediateF {
		mode = pipeline.SaveImmediate
	}

	preview := stream.NewMJPEGStream()

	loop, err := pipeline.NewCaptureLoop(pipeline.CaptureConfig{
		Source:     source,
		Detector:   detector,
		Ring:       ring,
		Recorder:   recorder,
		Classifier: classifier,
		Bus:        pipeline.NewEventBus(),
		Mode:       mode,
		Interval:   time.Second / time.Duration(*fpsF),
		OnFrame:    preview.Publish,
	})
	if err != nil {
		logger.Fatalf("capture loop: %v", err)
	}
	bus := loop.Bus()

	// Windowed clips finish encoding after the event row is written;
	// track trigger -> event ID so the row gets its video path.
	var (
		pendingMu sync.Mutex
		pending   = make(map[time.Time]string)
	)
	recorder.SetResultHandler(func(res recording.SaveResult) {
		pendingMu.Lock()
		id, ok := pending[res.Trigger]
		delete(pending, res.Trigger)
		pendingMu.Unlock()
		if res.Err != nil || !ok {
			return
		}
		if err := db.UpdateVideoPath(id, res.Path); err != nil {
			logger.Printf("video path update failed: %v", err)
		}
	})

	// Persistence sink. Runs off the capture worker: the post-roll window
	// leaves ample time to register the pending entry before the encode
	// result arrives.
	dbEvents, dbUnsub := bus.SubscribeChannel(16)
	defer dbUnsub()
	go func() {
		for ev := range dbEvents {
			classes := make([]string, 0, len(ev.Labels))
			var confidence float64
			for _, l := range ev.Labels {
				classes = append(classes, l.Class)
				if float64(l.Confidence) > confidence {
					confidence = float64(l.Confidence)
				}
			}
			rec := &database.DetectionRecord{
				ID:              ev.ID,
				Timestamp:       ev.Timestamp,
				Method:          ev.Method,
				DetectedObjects: classes,
				Confidence:      confidence,
				Regions:         ev.Regions,
				VideoPath:       ev.VideoPath,
			}
			if err := db.SaveDetection(rec); err != nil {
				logger.Printf("detection save failed: %v", err)
				continue
			}
			if ev.VideoPath == "" {
				pendingMu.Lock()
				pending[ev.Timestamp] = ev.ID
				pendingMu.Unlock()
			}
		}
	}()

	// Telegram sink
	if *tgTokenF != "" {
		cfg := telegram.Config{
			BotToken:        *tgTokenF,
			ChatID:          *tgChatF,
			Enabled:         true,
			CooldownSeconds: *tgCooldownF,
		}
		if err := telegram.ValidateConfig(cfg); err != nil {
			logger.Fatalf("telegram: %v", err)
		}
		bot := telegram.NewBot(cfg)
		events, unsubscribe := bus.SubscribeChannel(16)
		defer unsubscribe()
		go func() {
			for ev := range events {
				classes := make([]string, 0, len(ev.Labels))
				for _, l := range ev.Labels {
					classes = append(classes, l.Class)
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := bot.SendDetectionAlert(ctx, ev.Method, classes, ev.Annotated); err != nil {
					logger.Printf("telegram alert failed: %v", err)
				}
				cancel()
			}
		}()
	}

	// WebSocket sink. JPEG encoding and broadcast deadlines belong off
	// the capture worker as well.
	hub := ws.NewHub()
	wsEvents, wsUnsub := bus.SubscribeChannel(16)
	defer wsUnsub()
	go func() {
		for ev := range wsEvents {
			msg := ws.NewEventMessage(ev.ID, ev.Method, ev.Timestamp)
			msg.Regions = ev.Regions
			msg.VideoPath = ev.VideoPath
			for _, l := range ev.Labels {
				msg.Objects = append(msg.Objects, ws.ObjectLabel{
					Class:      l.Class,
					Confidence: l.Confidence,
					Region:     l.Region,
				})
			}
			if ev.Annotated != nil {
				var jpg bytes.Buffer
				if err := jpeg.Encode(&jpg, ev.Annotated.ToImage(), &jpeg.Options{Quality: 70}); err == nil {
					msg.Frame = base64.StdEncoding.EncodeToString(jpg.Bytes())
				}
			}
			hub.BroadcastEvent(msg)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws/events", hub)
	mux.Handle("/stream", preview)
	mux.Handle("/snapshot", stream.NewSnapshotHandler(preview))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","running":%t,"recording":%t}`,
			loop.Running(), recorder.Recording())
	})
	srv := &http.Server{Addr: *httpAddrF, Handler: mux, ReadHeaderTimeout: 60 * time.Second}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		logger.Printf("HTTP server listening on %q", *httpAddrF)
		errc <- srv.ListenAndServe()
	}()

	if err := loop.Start(); err != nil {
		logger.Fatalf("capture loop: %v", err)
	}

	logger.Printf("exiting (%v)", <-errc)

	loop.Stop()
	source.Close()
	recorder.Close()
	hub.Close()
	bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("failed to shutdown: %v", err)
	}
	logger.Println("exited")
}
