package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-relay/internal/audio"
)

const (
	sampleRate = 16000
	// 320 samples * 2 bytes = 20ms at 16kHz
	chunkBytes = 640
)

func main() {
	url := flag.String("url", "ws://localhost:8000/api/ws/stream", "relay websocket URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent callers")
	calls := flag.Int("calls", 5, "calls per caller")
	audioDir := flag.String("audio", "", "directory with sample .wav files")
	userID := flag.String("user", "loadtest", "value for the user identity header")
	flag.Parse()

	var clips [][]byte
	if *audioDir != "" {
		var err error
		clips, err = loadClips(*audioDir)
		if err != nil || len(clips) == 0 {
			fmt.Fprintf(os.Stderr, "no usable audio in %s, generating synthetic audio\n", *audioDir)
		}
	}

	fmt.Printf("Load test: %d callers x %d calls\n", *concurrency, *calls)
	fmt.Printf("Relay: %s\n\n", *url)

	var mu sync.Mutex
	var results []callResult
	var wg sync.WaitGroup

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range *calls {
				r := runCall(*url, *userID, pickClip(clips))
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type callResult struct {
	success      bool
	firstAudioMs float64
	finishedMs   float64
	chunks       int
	err          string
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func sendFrame(conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func runCall(url, userID string, pcm []byte) callResult {
	header := http.Header{}
	header.Set("x-oz-user-id", userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return callResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	start := map[string]any{"input_format": "pcm16", "output_format": "pcm", "sample_rate": sampleRate, "round": 1}
	if err = sendFrame(conn, "start_session", start); err != nil {
		return callResult{err: fmt.Sprintf("send start: %v", err)}
	}

	for i := 0; i < len(pcm); i += chunkBytes {
		end := min(i+chunkBytes, len(pcm))
		if err = sendFrame(conn, "audio_input_chunk", base64.StdEncoding.EncodeToString(pcm[i:end])); err != nil {
			return callResult{err: fmt.Sprintf("send audio: %v", err)}
		}
		time.Sleep(20 * time.Millisecond)
	}

	finishAt := time.Now()
	if err = sendFrame(conn, "audio_input_finish", struct{}{}); err != nil {
		return callResult{err: fmt.Sprintf("send finish: %v", err)}
	}

	var res callResult
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			res.err = fmt.Sprintf("read: %v", err)
			return res
		}
		var env envelope
		if err = json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "audio_output_chunk":
			if res.chunks == 0 {
				res.firstAudioMs = msSince(finishAt)
			}
			res.chunks++
		case "audio_output_finished":
			res.finishedMs = msSince(finishAt)
			res.success = true
			return res
		case "error":
			res.err = "server error: " + string(env.Payload)
			return res
		}
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

func pickClip(clips [][]byte) []byte {
	if len(clips) > 0 {
		return clips[rand.Intn(len(clips))]
	}
	return generateSyntheticAudio(3 * time.Second)
}

func generateSyntheticAudio(dur time.Duration) []byte {
	numSamples := int(dur.Seconds()) * sampleRate
	samples := make([]float32, numSamples)
	for i := range numSamples {
		t := float64(i) / float64(sampleRate)
		// 440Hz sine wave with some noise to pass the speech gate
		samples[i] = float32(math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05)
	}
	return audio.EncodePCM16(samples)
}

// loadClips decodes every .wav file in dir to 16 kHz PCM16.
func loadClips(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var clips [][]byte
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		samples, rate, err := audio.Decode(data, audio.CodecWAV, sampleRate)
		if err != nil {
			return nil, err
		}
		clips = append(clips, audio.EncodePCM16(audio.Resample(samples, rate, sampleRate)))
	}
	return clips, nil
}

func printSummary(results []callResult) {
	var succeeded, failed int
	var firstAll, doneAll []float64
	errs := map[string]int{}

	for _, r := range results {
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		firstAll = append(firstAll, r.firstAudioMs)
		doneAll = append(doneAll, r.finishedMs)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Calls completed: %d\n", succeeded)
	fmt.Printf("Calls failed:    %d\n", failed)
	for e, n := range errs {
		fmt.Printf("  %4d  %s\n", n, e)
	}

	if len(doneAll) == 0 {
		fmt.Println("No successful calls to report latency")
		return
	}

	fmt.Printf("\n%-12s %8s %8s %8s\n", "Measure", "p50", "p95", "p99")
	fmt.Printf("%-12s %6.0fms %6.0fms %6.0fms\n", "First audio", percentile(firstAll, 50), percentile(firstAll, 95), percentile(firstAll, 99))
	fmt.Printf("%-12s %6.0fms %6.0fms %6.0fms\n", "Finished", percentile(doneAll, 50), percentile(doneAll, 95), percentile(doneAll, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
